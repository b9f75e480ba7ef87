package sniff

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestBytesDetectsPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if got := Bytes(buf.Bytes()); got != "image/png" {
		t.Errorf("Bytes = %q, want image/png", got)
	}
}

func TestBytesDetectsJPEGMagic(t *testing.T) {
	// A JPEG SOI marker plus padding is enough for signature detection.
	data := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 32)...)
	if got := Bytes(data); got != "image/jpeg" {
		t.Errorf("Bytes = %q, want image/jpeg", got)
	}
}

func TestFileFallsBackToExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.csv")
	if err := os.WriteFile(p, []byte("a,b,c\n1,2,3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := File(p)
	// mimetype classifies this as text/csv or text/plain depending on
	// heuristics; either way it must not be octet-stream.
	if got == "application/octet-stream" {
		t.Errorf("File = %q, want a text type", got)
	}
}

func TestIsSupportedImage(t *testing.T) {
	for _, mt := range []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/bmp", "image/tiff"} {
		if !IsSupportedImage(mt) {
			t.Errorf("IsSupportedImage(%q) = false", mt)
		}
	}
	for _, mt := range []string{"image/svg+xml", "application/pdf", "video/mp4", ""} {
		if IsSupportedImage(mt) {
			t.Errorf("IsSupportedImage(%q) = true", mt)
		}
	}
	if !IsSupportedImage("image/png; charset=binary") {
		t.Error("parameters should be ignored")
	}
}

func TestByExtension(t *testing.T) {
	cases := map[string]string{
		"a.JPG":    "image/jpeg",
		"b.tar":    "application/x-tar",
		"c":        "application/octet-stream",
		"d.weird":  "application/octet-stream",
		"e.webp":   "image/webp",
		"f.qoi":    "image/qoi",
		"dir/g.mp4": "video/mp4",
	}
	for in, want := range cases {
		if got := ByExtension(in); got != want {
			t.Errorf("ByExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLooksLikeImage(t *testing.T) {
	if !LooksLikeImage("x.TIFF") || LooksLikeImage("x.txt") || LooksLikeImage("x") {
		t.Error("LooksLikeImage misclassified")
	}
}
