// Package sniff determines a file's content type from its bytes rather than
// trusting the caller-supplied label. Detection uses magic numbers via
// mimetype, with an extension table as the fallback for formats whose bytes
// carry no usable signature.
package sniff

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// supportedImageTypes are the raster formats the derivative pipeline can
// decode.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

// File sniffs the content type of an on-disk file. Falls back to the
// extension table when the bytes are not recognizable.
func File(filePath string) string {
	m, err := mimetype.DetectFile(filePath)
	if err != nil {
		return ByExtension(filePath)
	}
	mt := trimParams(m.String())
	if mt == "application/octet-stream" {
		// mimetype's terminal node; the extension may still know better.
		if byExt := ByExtension(filePath); byExt != "application/octet-stream" {
			return byExt
		}
	}
	return mt
}

// Bytes sniffs the content type of an in-memory prefix.
func Bytes(data []byte) string {
	return trimParams(mimetype.Detect(data).String())
}

func trimParams(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// IsSupportedImage reports whether the sniffed type is a raster format the
// pipeline can produce derivatives for.
func IsSupportedImage(mimeType string) bool {
	return supportedImageTypes[trimParams(mimeType)]
}

// LooksLikeImage reports whether a filename's extension suggests a supported
// raster image. Used only to pick backfill candidates cheaply; the pipeline
// still decodes before trusting it.
func LooksLikeImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif":
		return true
	}
	return false
}

// ByExtension maps a filename extension to a MIME type without touching the
// content. Used for startup indexing, where sniffing every file would make
// large libraries slow to boot.
func ByExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".svg":
		return "image/svg+xml"
	case ".qoi":
		return "image/qoi"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz":
		return "application/gzip"
	case ".7z":
		return "application/x-7z-compressed"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
