package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"testing"

	"github.com/snapbin/snapbin/internal/gallery"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/storage"
)

func newTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	idx, err := metadata.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return storage.NewEngine(idx, 1<<20, gallery.Config{ThumbSize: 32, ThumbFormat: gallery.FormatJPEG}, nil)
}

func jpegFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 7), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if _, err := zw.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestEngine(t)
	ctx := context.Background()

	docs, err := src.CreateFolder("docs", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.CreateFolder("empty", docs.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Upload(ctx, "root.txt", "", strings.NewReader("at root")); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Upload(ctx, "nested.txt", docs.ID, strings.NewReader("in docs")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Export(&buf, src, "", true); err != nil {
		t.Fatal(err)
	}

	dst := newTestEngine(t)
	sum, err := Import(ctx, dst, &buf, "", Limits{MaxEntries: 100, MaxBytes: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Imported != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if sum.FoldersCreated != 2 {
		t.Errorf("folders created = %d, want 2 (docs and docs/empty)", sum.FoldersCreated)
	}

	rc, f, err := dst.Open("nested.txt")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "in docs" {
		t.Errorf("content = %q", got)
	}
	dir, err := dst.Index().FilePath("nested.txt")
	if err != nil {
		t.Fatal(err)
	}
	if dir != "docs/nested.txt" {
		t.Errorf("imported path = %q", dir)
	}
	_ = f

	docsDst, ok := dst.Index().ChildFolderByName("", "docs")
	if !ok {
		t.Fatal("docs folder not recreated")
	}
	if _, ok := dst.Index().ChildFolderByName(docsDst.ID, "empty"); !ok {
		t.Error("empty folder lost in round trip")
	}
}

func TestExportSubtreeWithDerivatives(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	photos, err := e.CreateFolder("photos", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Upload(ctx, "outside.txt", "", strings.NewReader("not exported")); err != nil {
		t.Fatal(err)
	}
	img, err := e.Upload(ctx, "pic.jpg", photos.ID, bytes.NewReader(jpegFixture(t)))
	if err != nil {
		t.Fatal(err)
	}
	if !img.HasThumbnail {
		t.Fatal("fixture upload produced no thumbnail")
	}

	var buf bytes.Buffer
	if err := Export(&buf, e, photos.ID, false); err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["pic.jpg"] || !names["_thumbs/pic.jpg"] {
		t.Errorf("entries = %v", names)
	}
	if names["outside.txt"] {
		t.Error("subtree export leaked a file from outside the subtree")
	}

	// Originals-only drops the mirror-tree entries.
	buf.Reset()
	if err := Export(&buf, e, photos.ID, true); err != nil {
		t.Fatal(err)
	}
	zr, err = zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "_thumbs/") || strings.HasPrefix(f.Name, "_qoi/") {
			t.Errorf("originals-only export contains %s", f.Name)
		}
	}
}

func TestImportIntoSubfolderIsNonDestructive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Upload(ctx, "keep.txt", "", strings.NewReader("existing")); err != nil {
		t.Fatal(err)
	}
	target, err := e.CreateFolder("incoming", "")
	if err != nil {
		t.Fatal(err)
	}

	buf := buildZip(t, map[string]string{"new.txt": "imported"})
	sum, err := Import(ctx, e, buf, target.ID, Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Imported != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := e.Index().File("keep.txt"); err != nil {
		t.Error("pre-existing file disturbed by import")
	}
	rel, err := e.Index().FilePath("new.txt")
	if err != nil {
		t.Fatal(err)
	}
	if rel != "incoming/new.txt" {
		t.Errorf("imported path = %q", rel)
	}
}

func TestImportRejectsTraversal(t *testing.T) {
	e := newTestEngine(t)
	buf := buildZip(t, map[string]string{
		"../escape.txt":      "bad",
		"ok.txt":             "good",
		"_thumbs/sneaky.jpg": "bad",
		".hidden/x.txt":      "bad",
	})
	sum, err := Import(context.Background(), e, buf, "", Limits{})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Imported != 1 || sum.Skipped != 3 {
		t.Fatalf("summary = %+v, want 1 imported / 3 skipped", sum)
	}
	if _, err := e.Index().File("escape.txt"); !errors.Is(err, metadata.ErrNotFound) {
		t.Error("traversal entry got imported")
	}
}

func TestImportEnforcesEntryCap(t *testing.T) {
	e := newTestEngine(t)
	buf := buildZip(t, map[string]string{"a.txt": "1", "b.txt": "2", "c.txt": "3"})
	_, err := Import(context.Background(), e, buf, "", Limits{MaxEntries: 2})
	if !errors.Is(err, metadata.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestImportEnforcesByteCap(t *testing.T) {
	e := newTestEngine(t)
	buf := buildZip(t, map[string]string{
		"a.txt": strings.Repeat("x", 600),
		"b.txt": strings.Repeat("y", 600),
	})
	_, err := Import(context.Background(), e, buf, "", Limits{MaxBytes: 1000})
	if !errors.Is(err, metadata.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	e := newTestEngine(t)
	_, err := Import(context.Background(), e, strings.NewReader("not a zip"), "", Limits{})
	if !errors.Is(err, metadata.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
