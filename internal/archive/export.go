// Package archive moves whole libraries in and out as zip files. Export
// streams straight to the response; import replays entries through the
// regular upload path so every invariant and derivative rule applies.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/naming"
	"github.com/snapbin/snapbin/internal/storage"
)

// Export writes the subtree rooted at folderID ("" for the whole library)
// as a zip to w, preserving the folder tree including empty folders. Unless
// originalsOnly is set, thumbnail and lossless artifacts ride along under
// their mirror-tree paths. A single unreadable file is skipped with a log
// line rather than aborting the stream.
func Export(w io.Writer, e *storage.Engine, folderID string, originalsOnly bool) error {
	if err := e.Index().ResolveFolder(folderID); err != nil {
		return err
	}
	start := time.Now()
	zw := zip.NewWriter(w)

	if err := exportFolder(zw, e, folderID, "", originalsOnly); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize zip: %w", err)
	}
	metrics.RecordArchiveOperation("export", time.Since(start))
	return nil
}

func exportFolder(zw *zip.Writer, e *storage.Engine, folderID, prefix string, originalsOnly bool) error {
	idx := e.Index()

	files, err := idx.Files(folderID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := exportFile(zw, e, f, prefix, originalsOnly); err != nil {
			logging.Warn("export: skipping file", zap.String("file", f.Name), zap.Error(err))
		}
	}

	subs, err := idx.Subfolders(folderID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		subPrefix := path.Join(prefix, sub.Name)
		// Explicit directory entry so empty folders survive the round trip.
		hdr := &zip.FileHeader{Name: subPrefix + "/", Modified: sub.CreatedAt}
		if _, err := zw.CreateHeader(hdr); err != nil {
			return fmt.Errorf("write dir entry %s: %w", subPrefix, err)
		}
		if err := exportFolder(zw, e, sub.ID, subPrefix, originalsOnly); err != nil {
			return err
		}
	}
	return nil
}

func exportFile(zw *zip.Writer, e *storage.Engine, f metadata.File, prefix string, originalsOnly bool) error {
	rc, _, err := e.Open(f.Name)
	if err != nil {
		return err
	}
	defer rc.Close()

	entryPath := path.Join(prefix, f.Name)
	hdr := &zip.FileHeader{
		Name:     entryPath,
		Method:   zip.Deflate,
		Modified: f.UploadedAt,
	}
	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return fmt.Errorf("copy content: %w", err)
	}

	if originalsOnly {
		return nil
	}
	rel, err := e.Index().FilePath(f.Name)
	if err != nil {
		return nil
	}
	if f.HasThumbnail {
		exportDerivative(zw, e.ThumbAbsPath(rel), path.Join(naming.ThumbsDir, entryPath))
	}
	if f.HasLossless {
		exportDerivative(zw, e.QOIAbsPath(rel), path.Join(naming.QOIDir, entryPath))
	}
	return nil
}

// exportDerivative adds one derivative artifact; absence or a read error is
// not worth failing the export over.
func exportDerivative(zw *zip.Writer, abs, entryPath string) {
	src, err := os.Open(abs)
	if err != nil {
		return
	}
	defer src.Close()
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: entryPath, Method: zip.Deflate})
	if err != nil {
		return
	}
	if _, err := io.Copy(entry, src); err != nil {
		logging.Warn("export: derivative copy failed", zap.String("entry", entryPath), zap.Error(err))
	}
}
