package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/naming"
	"github.com/snapbin/snapbin/internal/storage"
)

// Limits bound how much an import may pull out of an archive.
type Limits struct {
	MaxEntries int
	MaxBytes   int64 // total uncompressed bytes
}

// Summary reports what an import actually did.
type Summary struct {
	Imported       int `json:"imported"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
	FoldersCreated int `json:"folders_created"`
}

// Import replays a zip archive into targetFolderID. Existing content is left
// alone; entries go through the regular upload path, so colliding names get
// suffixes and images get derivatives. Per-entry failures are counted, not
// fatal; only a malformed archive or an exceeded limit aborts.
func Import(ctx context.Context, e *storage.Engine, r io.Reader, targetFolderID string, limits Limits) (Summary, error) {
	start := time.Now()
	var sum Summary

	if err := e.Index().ResolveFolder(targetFolderID); err != nil {
		return sum, err
	}

	// zip needs random access, so spool the body to a temp file first.
	spool, err := os.CreateTemp(filepath.Join(e.Root(), naming.TempDir), "import-*.zip")
	if err != nil {
		return sum, fmt.Errorf("create import spool: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	size, err := io.Copy(spool, r)
	if err != nil {
		return sum, fmt.Errorf("spool archive: %w", err)
	}

	zr, err := zip.NewReader(spool, size)
	if err != nil {
		return sum, fmt.Errorf("%w: not a valid zip archive", metadata.ErrValidation)
	}
	if limits.MaxEntries > 0 && len(zr.File) > limits.MaxEntries {
		return sum, fmt.Errorf("%w: archive has %d entries (limit %d)",
			metadata.ErrValidation, len(zr.File), limits.MaxEntries)
	}

	// Folder IDs by archive-relative path, rooted at the target folder.
	folderIDs := map[string]string{"": targetFolderID}
	var totalBytes int64

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name, ok := entryPath(f.Name)
		if !ok {
			logging.Warn("import: skipping unsafe entry", zap.String("entry", f.Name))
			sum.Skipped++
			continue
		}
		if name == "" {
			continue
		}

		isDir := f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/")
		if isDir {
			if _, err := ensureFolderChain(e, folderIDs, name, &sum); err != nil {
				logging.Warn("import: folder failed", zap.String("entry", name), zap.Error(err))
				sum.Failed++
			}
			continue
		}

		totalBytes += int64(f.UncompressedSize64)
		if limits.MaxBytes > 0 && totalBytes > limits.MaxBytes {
			return sum, fmt.Errorf("%w: archive exceeds %d uncompressed bytes",
				metadata.ErrValidation, limits.MaxBytes)
		}

		dirID, err := ensureFolderChain(e, folderIDs, path.Dir(name), &sum)
		if err != nil {
			logging.Warn("import: folder failed", zap.String("entry", name), zap.Error(err))
			sum.Failed++
			continue
		}

		rc, err := f.Open()
		if err != nil {
			logging.Warn("import: open entry failed", zap.String("entry", name), zap.Error(err))
			sum.Failed++
			continue
		}
		// Guard against lying size headers: cap the actual read too.
		var body io.Reader = rc
		if limits.MaxBytes > 0 {
			body = io.LimitReader(rc, limits.MaxBytes-totalBytes+int64(f.UncompressedSize64))
		}
		_, err = e.Upload(ctx, path.Base(name), dirID, body)
		rc.Close()
		if err != nil {
			logging.Warn("import: upload failed", zap.String("entry", name), zap.Error(err))
			sum.Failed++
			continue
		}
		sum.Imported++
	}

	metrics.RecordArchiveOperation("import", time.Since(start))
	logging.Info("import finished",
		zap.Int("imported", sum.Imported),
		zap.Int("folders", sum.FoldersCreated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// entryPath normalizes a zip entry name and rejects anything that would
// escape the target folder or touch reserved trees.
func entryPath(name string) (string, bool) {
	name = strings.TrimSuffix(strings.ReplaceAll(name, `\`, "/"), "/")
	if name == "" {
		return "", true
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	if naming.IsReserved(strings.SplitN(clean, "/", 2)[0]) {
		return "", false
	}
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return clean, true
}

// ensureFolderChain creates any missing folders along rel and returns the ID
// of the deepest one. Existing folders with matching names are reused.
func ensureFolderChain(e *storage.Engine, folderIDs map[string]string, rel string, sum *Summary) (string, error) {
	if rel == "." || rel == "" {
		return folderIDs[""], nil
	}
	if id, ok := folderIDs[rel]; ok {
		return id, nil
	}
	parentID, err := ensureFolderChain(e, folderIDs, path.Dir(rel), sum)
	if err != nil {
		return "", err
	}
	name := path.Base(rel)
	if existing, ok := e.Index().ChildFolderByName(parentID, name); ok {
		folderIDs[rel] = existing.ID
		return existing.ID, nil
	}
	created, err := e.CreateFolder(name, parentID)
	if err != nil {
		return "", err
	}
	sum.FoldersCreated++
	folderIDs[rel] = created.ID
	return created.ID, nil
}
