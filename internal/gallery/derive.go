// Package gallery turns uploaded images into web-friendly derivatives: a
// bounded thumbnail and an optional lossless QOI re-encode. The pipeline is
// pure (bytes in, bytes out); the storage engine owns where results land.
package gallery

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/xfmoulet/qoi"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Thumbnail output formats.
const (
	FormatWebP = "webp"
	FormatJPEG = "jpeg"
)

// Config controls derivative generation.
type Config struct {
	ThumbSize   int    // max edge of the thumbnail bounding box
	ThumbFormat string // FormatWebP or FormatJPEG
	JPEGQuality int
	WebPQuality float32
	QOIEnabled  bool
}

// Result carries everything Process could produce. A nil Thumbnail or
// Lossless with a non-nil matching error means that derivative failed while
// the rest of the pipeline went through.
type Result struct {
	Width  int
	Height int

	Thumbnail    []byte
	ThumbFormat  string
	ThumbnailErr error

	Lossless    []byte
	LosslessErr error
}

// Process decodes an image and produces its derivatives. A decode failure is
// a hard error: the bytes are not a usable image. Encode failures are soft
// and reported per derivative in the Result.
func Process(data []byte, cfg Config) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	// Orientation only matters for formats that carry EXIF.
	if format == "jpeg" || format == "tiff" {
		img = applyOrientation(img, Orientation(bytes.NewReader(data)))
	}

	bounds := img.Bounds()
	res := &Result{Width: bounds.Dx(), Height: bounds.Dy()}

	res.Thumbnail, res.ThumbFormat, res.ThumbnailErr = encodeThumbnail(img, cfg)
	if cfg.QOIEnabled {
		res.Lossless, res.LosslessErr = encodeLossless(img)
	}
	return res, nil
}

func encodeThumbnail(img image.Image, cfg Config) ([]byte, string, error) {
	size := cfg.ThumbSize
	if size <= 0 {
		size = 400
	}
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	switch cfg.ThumbFormat {
	case FormatJPEG:
		q := cfg.JPEGQuality
		if q <= 0 || q > 100 {
			q = 80
		}
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg thumbnail: %w", err)
		}
		return buf.Bytes(), FormatJPEG, nil
	default:
		q := cfg.WebPQuality
		if q <= 0 || q > 100 {
			q = 80
		}
		if err := webp.Encode(&buf, thumb, &webp.Options{Quality: q}); err != nil {
			return nil, "", fmt.Errorf("encode webp thumbnail: %w", err)
		}
		return buf.Bytes(), FormatWebP, nil
	}
}

func encodeLossless(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := qoi.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode qoi: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions decodes just the image header.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
