// Package storage implements the library engine: every structural mutation
// goes disk-first, then index, with a compensating disk rollback if the
// index refuses the change. The engine's mutex serializes structural
// mutations; reads go straight to the index.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/events"
	"github.com/snapbin/snapbin/internal/gallery"
	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/naming"
	"github.com/snapbin/snapbin/internal/sniff"
)

// Engine ties the metadata index to the bytes on disk.
type Engine struct {
	root        string
	idx         *metadata.Index
	maxFileSize int64
	imgCfg      gallery.Config
	broadcaster *events.Broadcaster

	// mu serializes structural mutations (uploads, moves, deletes).
	// Derivative generation runs outside it.
	mu sync.Mutex
}

// NewEngine creates an engine over a loaded index.
func NewEngine(idx *metadata.Index, maxFileSize int64, imgCfg gallery.Config, b *events.Broadcaster) *Engine {
	return &Engine{
		root:        idx.Root(),
		idx:         idx,
		maxFileSize: maxFileSize,
		imgCfg:      imgCfg,
		broadcaster: b,
	}
}

// Index exposes the metadata index for read paths.
func (e *Engine) Index() *metadata.Index { return e.idx }

// Root returns the storage root directory.
func (e *Engine) Root() string { return e.root }

func (e *Engine) absPath(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func (e *Engine) thumbPath(rel string) string {
	return filepath.Join(e.root, naming.ThumbsDir, filepath.FromSlash(rel))
}

func (e *Engine) qoiPath(rel string) string {
	return filepath.Join(e.root, naming.QOIDir, filepath.FromSlash(rel))
}

// ThumbAbsPath returns the on-disk thumbnail location for a logical path.
func (e *Engine) ThumbAbsPath(rel string) string { return e.thumbPath(rel) }

// QOIAbsPath returns the on-disk lossless-derivative location for a logical
// path.
func (e *Engine) QOIAbsPath(rel string) string { return e.qoiPath(rel) }

func (e *Engine) publish(ev events.Event) {
	if e.broadcaster != nil {
		e.broadcaster.Publish(ev)
	}
}

// ─── Folders ────────────────────────────────────────────────────────────────

// CreateFolder makes a new folder under parentID ("" for the root).
func (e *Engine) CreateFolder(name, parentID string) (metadata.Folder, error) {
	if err := naming.ValidateFolderName(name); err != nil {
		return metadata.Folder{}, fmt.Errorf("%w: %s", metadata.ErrValidation, err)
	}
	if err := e.idx.ResolveFolder(parentID); err != nil {
		return metadata.Folder{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	parentPath, err := e.idx.FolderPath(parentID)
	if err != nil {
		return metadata.Folder{}, err
	}
	rel := path.Join(parentPath, name)
	if err := os.Mkdir(e.absPath(rel), 0o755); err != nil {
		if os.IsExist(err) {
			return metadata.Folder{}, fmt.Errorf("folder %q already exists here: %w", name, metadata.ErrConflict)
		}
		return metadata.Folder{}, fmt.Errorf("create folder dir: %w", err)
	}

	f := metadata.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.idx.AddFolder(f); err != nil {
		os.Remove(e.absPath(rel))
		return metadata.Folder{}, err
	}

	e.publish(events.Event{Type: events.EventCreate, Kind: "folder", Path: rel})
	return f, nil
}

// DeleteFolder removes an empty folder. A folder with any contents is a
// conflict, not a cascade.
func (e *Engine) DeleteFolder(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == "" {
		return fmt.Errorf("cannot delete the library root: %w", metadata.ErrValidation)
	}
	rel, err := e.idx.FolderPath(id)
	if err != nil {
		return err
	}
	stats, err := e.idx.Stats(id)
	if err != nil {
		return err
	}
	if stats.FileCount > 0 || stats.FolderCount > 0 {
		return fmt.Errorf("folder is not empty: %w", metadata.ErrConflict)
	}

	if err := os.Remove(e.absPath(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove folder dir: %w", err)
	}
	if err := e.idx.RemoveFolder(id); err != nil {
		// Disk change already happened; put the directory back.
		if mkErr := os.Mkdir(e.absPath(rel), 0o755); mkErr != nil {
			logging.Error("rollback mkdir failed", zap.String("path", rel), zap.Error(mkErr))
		}
		return err
	}

	// Mirror dirs for derivatives are empty at this point; best effort.
	os.Remove(e.thumbPath(rel))
	os.Remove(e.qoiPath(rel))

	e.publish(events.Event{Type: events.EventDelete, Kind: "folder", Path: rel})
	return nil
}

// MoveFolder reparents a folder. Moving into its own subtree is a conflict.
func (e *Engine) MoveFolder(id, newParentID string) error {
	if err := e.idx.ResolveFolder(newParentID); err != nil {
		return err
	}
	if newParentID != "" && e.idx.IsDescendant(id, newParentID) {
		return fmt.Errorf("cannot move a folder into its own subtree: %w", metadata.ErrConflict)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.idx.Folder(id)
	if err != nil {
		return err
	}
	oldRel, err := e.idx.FolderPath(id)
	if err != nil {
		return err
	}
	destPath, err := e.idx.FolderPath(newParentID)
	if err != nil {
		return err
	}
	newRel := path.Join(destPath, f.Name)
	if oldRel == newRel {
		return nil
	}

	// rename(2) silently replaces an empty destination directory, so
	// check for a name clash before touching the disk.
	if _, err := os.Stat(e.absPath(newRel)); err == nil {
		return fmt.Errorf("folder %q already exists at destination: %w", f.Name, metadata.ErrConflict)
	}
	if err := os.Rename(e.absPath(oldRel), e.absPath(newRel)); err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	renameIfPresent(e.thumbPath(oldRel), e.thumbPath(newRel))
	renameIfPresent(e.qoiPath(oldRel), e.qoiPath(newRel))

	if err := e.idx.SetFolderParent(id, newParentID); err != nil {
		renameIfPresent(e.thumbPath(newRel), e.thumbPath(oldRel))
		renameIfPresent(e.qoiPath(newRel), e.qoiPath(oldRel))
		if rbErr := os.Rename(e.absPath(newRel), e.absPath(oldRel)); rbErr != nil {
			logging.Error("rollback rename failed", zap.String("path", newRel), zap.Error(rbErr))
		}
		return err
	}

	e.publish(events.Event{Type: events.EventMove, Kind: "folder", Path: newRel, OldPath: oldRel})
	return nil
}

// ─── Files ──────────────────────────────────────────────────────────────────

// Upload streams content into folderID under a sanitized version of
// declaredName, enforcing the size cap incrementally. Image derivatives are
// generated synchronously after the original is committed.
func (e *Engine) Upload(ctx context.Context, declaredName, folderID string, r io.Reader) (metadata.File, error) {
	name, err := naming.SanitizeFilename(declaredName)
	if err != nil {
		return metadata.File{}, fmt.Errorf("%w: %s", metadata.ErrValidation, err)
	}
	if err := e.idx.ResolveFolder(folderID); err != nil {
		return metadata.File{}, err
	}

	tmp, err := os.CreateTemp(filepath.Join(e.root, naming.TempDir), "upload-*.part")
	if err != nil {
		return metadata.File{}, fmt.Errorf("create upload temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	// One extra byte distinguishes "exactly at the cap" from "over it"
	// without buffering the body.
	n, err := io.Copy(tmp, io.LimitReader(r, e.maxFileSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		metrics.RecordUpload(0, false)
		return metadata.File{}, fmt.Errorf("write upload: %w", err)
	}
	if n > e.maxFileSize {
		cleanup()
		metrics.RecordUpload(0, false)
		return metadata.File{}, fmt.Errorf("%w (limit %d bytes)", metadata.ErrTooLarge, e.maxFileSize)
	}

	mime := sniff.File(tmpName)
	if mime == "application/octet-stream" {
		mime = sniff.ByExtension(name)
	}

	e.mu.Lock()
	final := name
	for e.idx.HasFile(final) {
		final = naming.WithSuffix(name, naming.UniqueSuffix())
	}
	dirRel, err := e.idx.FolderPath(folderID)
	if err != nil {
		e.mu.Unlock()
		cleanup()
		return metadata.File{}, err
	}
	rel := path.Join(dirRel, final)
	if err := os.Rename(tmpName, e.absPath(rel)); err != nil {
		e.mu.Unlock()
		cleanup()
		metrics.RecordUpload(0, false)
		return metadata.File{}, fmt.Errorf("commit upload: %w", err)
	}
	file := metadata.File{
		Name:       final,
		FolderID:   folderID,
		Size:       n,
		MimeType:   mime,
		UploadedAt: time.Now().UTC(),
	}
	if err := e.idx.AddFile(file); err != nil {
		os.Remove(e.absPath(rel))
		e.mu.Unlock()
		metrics.RecordUpload(0, false)
		return metadata.File{}, err
	}
	e.mu.Unlock()

	metrics.RecordUpload(n, true)
	e.publish(events.Event{Type: events.EventCreate, Kind: "file", Path: rel, Size: n})

	if sniff.IsSupportedImage(mime) {
		if err := e.Regenerate(ctx, final); err != nil {
			logging.Warn("derivative generation failed", zap.String("file", final), zap.Error(err))
		}
		file, _ = e.idx.File(final)
	}
	return file, nil
}

// DeleteFile removes a file and its derivatives.
func (e *Engine) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rel, err := e.idx.FilePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(e.absPath(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	os.Remove(e.thumbPath(rel))
	os.Remove(e.qoiPath(rel))

	if err := e.idx.RemoveFile(name); err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventDelete, Kind: "file", Path: rel})
	return nil
}

// MoveFile relocates a file to another folder, carrying derivatives along.
func (e *Engine) MoveFile(name, folderID string) error {
	if err := e.idx.ResolveFolder(folderID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	oldRel, err := e.idx.FilePath(name)
	if err != nil {
		return err
	}
	dirRel, err := e.idx.FolderPath(folderID)
	if err != nil {
		return err
	}
	newRel := path.Join(dirRel, name)
	if oldRel == newRel {
		return nil
	}

	if err := os.Rename(e.absPath(oldRel), e.absPath(newRel)); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	renameIfPresent(e.thumbPath(oldRel), e.thumbPath(newRel))
	renameIfPresent(e.qoiPath(oldRel), e.qoiPath(newRel))

	if err := e.idx.SetFileFolder(name, folderID); err != nil {
		renameIfPresent(e.thumbPath(newRel), e.thumbPath(oldRel))
		renameIfPresent(e.qoiPath(newRel), e.qoiPath(oldRel))
		if rbErr := os.Rename(e.absPath(newRel), e.absPath(oldRel)); rbErr != nil {
			logging.Error("rollback rename failed", zap.String("path", newRel), zap.Error(rbErr))
		}
		return err
	}

	e.publish(events.Event{Type: events.EventMove, Kind: "file", Path: newRel, OldPath: oldRel})
	return nil
}

// Open returns a reader over a file's original bytes.
func (e *Engine) Open(name string) (io.ReadCloser, metadata.File, error) {
	f, err := e.idx.File(name)
	if err != nil {
		return nil, metadata.File{}, err
	}
	rel, err := e.idx.FilePath(name)
	if err != nil {
		return nil, metadata.File{}, err
	}
	rc, err := os.Open(e.absPath(rel))
	if err != nil {
		return nil, metadata.File{}, fmt.Errorf("open %s: %w", rel, err)
	}
	return rc, f, nil
}

// ─── Derivatives ────────────────────────────────────────────────────────────

// Regenerate rebuilds a file's derivatives from the original bytes. Non-image
// content clears the image flags and is not an error.
func (e *Engine) Regenerate(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := e.idx.FilePath(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(e.absPath(rel))
	if err != nil {
		return fmt.Errorf("read original: %w", err)
	}
	if !sniff.IsSupportedImage(sniff.Bytes(data)) {
		return e.idx.SetImageInfo(name, 0, 0, false, false, false)
	}

	start := time.Now()
	res, err := gallery.Process(data, e.imgCfg)
	if err != nil {
		metrics.RecordDerivative("thumbnail", time.Since(start), false)
		if setErr := e.idx.SetImageInfo(name, 0, 0, false, false, false); setErr != nil {
			return setErr
		}
		return err
	}

	hasThumb := false
	if res.ThumbnailErr == nil {
		if err := writeAtomic(e.thumbPath(rel), res.Thumbnail); err != nil {
			logging.Warn("thumbnail write failed", zap.String("file", name), zap.Error(err))
		} else {
			hasThumb = true
		}
	} else {
		logging.Warn("thumbnail encode failed", zap.String("file", name), zap.Error(res.ThumbnailErr))
	}
	metrics.RecordDerivative("thumbnail", time.Since(start), hasThumb)

	hasLossless := false
	if e.imgCfg.QOIEnabled {
		lstart := time.Now()
		if res.LosslessErr == nil && res.Lossless != nil {
			if err := writeAtomic(e.qoiPath(rel), res.Lossless); err != nil {
				logging.Warn("lossless write failed", zap.String("file", name), zap.Error(err))
			} else {
				hasLossless = true
			}
		} else if res.LosslessErr != nil {
			logging.Warn("lossless encode failed", zap.String("file", name), zap.Error(res.LosslessErr))
		}
		metrics.RecordDerivative("lossless", time.Since(lstart), hasLossless)
	}

	if err := e.idx.SetImageInfo(name, res.Width, res.Height, true, hasThumb, hasLossless); err != nil {
		return err
	}
	e.publish(events.Event{Type: events.EventModify, Kind: "file", Path: rel})
	return nil
}

// PendingImages lists files that look like images but have no derivatives
// yet, for the startup backfill.
func (e *Engine) PendingImages() []string {
	var out []string
	for _, f := range e.idx.AllFiles() {
		if sniff.LooksLikeImage(f.Name) && !f.HasThumbnail {
			out = append(out, f.Name)
		}
	}
	return out
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeAtomic writes data via a temp file in the destination directory,
// creating parent directories as needed.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", dest, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapbin-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", dest, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", dest, err)
	}
	return nil
}

func renameIfPresent(old, new string) {
	if _, err := os.Stat(old); err != nil {
		return
	}
	os.MkdirAll(filepath.Dir(new), 0o755)
	if err := os.Rename(old, new); err != nil {
		logging.Warn("derivative move failed", zap.String("from", old), zap.Error(err))
	}
}
