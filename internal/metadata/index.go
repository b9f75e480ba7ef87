// Package metadata maintains the in-memory index of the folder/file tree.
// The filesystem under the storage root is the source of truth: the index is
// rebuilt from a full walk at startup and only mutated after the matching
// disk operation has succeeded. Folder identity survives restarts through a
// JSON sidecar at the storage root.
package metadata

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/naming"
	"github.com/snapbin/snapbin/internal/sniff"
)

// Index is the single authority over the logical tree. Reads take the
// RWMutex briefly; structural writes are additionally serialized by the
// storage engine's mutation guard.
type Index struct {
	mu      sync.RWMutex
	root    string
	folders map[string]*Folder
	files   map[string]*File
}

// Load builds the index from a full walk of the storage root, creating the
// root and its internal directories if needed.
func Load(root string) (*Index, error) {
	for _, dir := range []string{root,
		filepath.Join(root, naming.TempDir),
		filepath.Join(root, naming.ThumbsDir),
		filepath.Join(root, naming.QOIDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	idx := &Index{
		root:    root,
		folders: make(map[string]*Folder),
		files:   make(map[string]*File),
	}

	sidecar := idx.readSidecar()
	byPath := sidecarPaths(sidecar)

	// WalkDir visits each directory's entries in lexical order, so a
	// folder is always registered before its contents.
	pathToID := map[string]string{"": ""}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("index walk error, skipping entry", zap.String("path", p), zap.Error(err))
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if naming.IsReserved(strings.SplitN(rel, "/", 2)[0]) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		parentID := pathToID[path.Dir(rel)]
		if d.IsDir() {
			f, ok := byPath[rel]
			if !ok {
				info, _ := d.Info()
				created := time.Now().UTC()
				if info != nil {
					created = info.ModTime().UTC()
				}
				f = &Folder{ID: uuid.NewString(), Name: d.Name(), CreatedAt: created}
			}
			f.ParentID = parentID
			idx.folders[f.ID] = f
			pathToID[rel] = f.ID
			return nil
		}

		if _, dup := idx.files[d.Name()]; dup {
			logging.Warn("duplicate filename on disk, second copy not indexed",
				zap.String("path", rel))
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			logging.Warn("stat failed, entry not indexed", zap.String("path", rel), zap.Error(infoErr))
			return nil
		}
		file := &File{
			Name:       d.Name(),
			FolderID:   parentID,
			Size:       info.Size(),
			MimeType:   sniff.ByExtension(d.Name()),
			UploadedAt: info.ModTime().UTC(),
		}
		if sniff.LooksLikeImage(d.Name()) {
			if statExists(filepath.Join(root, naming.ThumbsDir, filepath.FromSlash(rel))) {
				file.IsImage = true
				file.HasThumbnail = true
			}
			if statExists(filepath.Join(root, naming.QOIDir, filepath.FromSlash(rel))) {
				file.IsImage = true
				file.HasLossless = true
			}
		}
		idx.files[d.Name()] = file
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	// Persist immediately so freshly assigned folder IDs and pruned
	// sidecar entries survive a crash before the first mutation.
	if err := idx.saveSidecarLocked(); err != nil {
		return nil, err
	}
	logging.Info("metadata index built",
		zap.Int("folders", len(idx.folders)),
		zap.Int("files", len(idx.files)))
	return idx, nil
}

func statExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Root returns the storage root directory.
func (idx *Index) Root() string { return idx.root }

// ─── Reads ──────────────────────────────────────────────────────────────────

// Folder returns the record for a real (non-root) folder ID.
func (idx *Index) Folder(id string) (Folder, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.folders[id]
	if !ok {
		return Folder{}, fmt.Errorf("folder %q: %w", id, ErrNotFound)
	}
	return *f, nil
}

// ResolveFolder validates a folder reference where "" means the root.
func (idx *Index) ResolveFolder(id string) error {
	if id == "" {
		return nil
	}
	_, err := idx.Folder(id)
	return err
}

// Subfolders lists the direct child folders of parentID, name ascending.
func (idx *Index) Subfolders(parentID string) ([]Folder, error) {
	if err := idx.ResolveFolder(parentID); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []Folder
	for _, f := range idx.folders {
		if f.ParentID == parentID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Files lists the direct files of folderID, name ascending.
func (idx *Index) Files(folderID string) ([]File, error) {
	if err := idx.ResolveFolder(folderID); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []File
	for _, f := range idx.files {
		if f.FolderID == folderID {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AllFiles returns every indexed file, name ascending.
func (idx *Index) AllFiles() []File {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]File, 0, len(idx.files))
	for _, f := range idx.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// File returns an indexed file by its globally unique filename.
func (idx *Index) File(name string) (File, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.files[name]
	if !ok {
		return File{}, fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	return *f, nil
}

// HasFile reports whether a filename is taken anywhere in the library.
func (idx *Index) HasFile(name string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.files[name]
	return ok
}

// ChildFolderByName finds a direct subfolder of parentID by name.
func (idx *Index) ChildFolderByName(parentID, name string) (Folder, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, f := range idx.folders {
		if f.ParentID == parentID && f.Name == name {
			return *f, true
		}
	}
	return Folder{}, false
}

// Breadcrumbs returns the ancestor chain root→current for a folder. The
// library root is implicit and not included.
func (idx *Index) Breadcrumbs(folderID string) ([]Folder, error) {
	if err := idx.ResolveFolder(folderID); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var chain []Folder
	for id := folderID; id != ""; {
		f, ok := idx.folders[id]
		if !ok {
			break
		}
		chain = append(chain, *f)
		id = f.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Stats computes a folder's derived numbers on demand by walking the
// subtree, so they can never drift from the indexed state.
func (idx *Index) Stats(folderID string) (Stats, error) {
	if err := idx.ResolveFolder(folderID); err != nil {
		return Stats{}, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var s Stats
	subtree := map[string]bool{folderID: true}
	// Folders are a flat map, so grow the descendant set to a fixpoint.
	for {
		added := false
		for _, f := range idx.folders {
			if subtree[f.ParentID] && !subtree[f.ID] {
				subtree[f.ID] = true
				added = true
			}
		}
		if !added {
			break
		}
	}
	for _, f := range idx.folders {
		if f.ParentID == folderID {
			s.FolderCount++
		}
	}
	for _, f := range idx.files {
		if f.FolderID == folderID {
			s.FileCount++
		}
		if subtree[f.FolderID] {
			s.Size += f.Size
		}
	}
	return s, nil
}

// FolderPath returns the slash-separated path of a folder relative to the
// storage root; "" for the root itself.
func (idx *Index) FolderPath(id string) (string, error) {
	if id == "" {
		return "", nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.folderPathLocked(id)
}

func (idx *Index) folderPathLocked(id string) (string, error) {
	var segs []string
	for cur := id; cur != ""; {
		f, ok := idx.folders[cur]
		if !ok {
			return "", fmt.Errorf("folder %q: %w", cur, ErrNotFound)
		}
		segs = append(segs, f.Name)
		cur = f.ParentID
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return path.Join(segs...), nil
}

// FilePath returns a file's logical path relative to the storage root.
func (idx *Index) FilePath(name string) (string, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	f, ok := idx.files[name]
	if !ok {
		return "", fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	dir, err := idx.folderPathLocked(f.FolderID)
	if err != nil {
		return "", err
	}
	return path.Join(dir, f.Name), nil
}

// IsDescendant reports whether id lies in the subtree rooted at ancestorID
// (a folder is its own descendant). Used for cycle prevention on move.
func (idx *Index) IsDescendant(ancestorID, id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for cur := id; cur != ""; {
		if cur == ancestorID {
			return true
		}
		f, ok := idx.folders[cur]
		if !ok {
			return false
		}
		cur = f.ParentID
	}
	return false
}

// Counts returns the total number of folders and files in the index.
func (idx *Index) Counts() (folders, files int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.folders), len(idx.files)
}

// ─── Mutations ──────────────────────────────────────────────────────────────
//
// Mutators are called by the storage engine after the corresponding disk
// operation succeeded. They re-validate invariants and persist the sidecar;
// on persistence failure the in-memory change is reverted and the engine
// rolls back its disk change.

// AddFolder registers a new folder record.
func (idx *Index) AddFolder(f Folder) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if f.ParentID != "" {
		if _, ok := idx.folders[f.ParentID]; !ok {
			return fmt.Errorf("parent folder %q: %w", f.ParentID, ErrNotFound)
		}
	}
	for _, sib := range idx.folders {
		if sib.ParentID == f.ParentID && sib.Name == f.Name {
			return fmt.Errorf("folder %q already exists here: %w", f.Name, ErrConflict)
		}
	}
	idx.folders[f.ID] = &f
	if err := idx.saveSidecarLocked(); err != nil {
		delete(idx.folders, f.ID)
		return err
	}
	return nil
}

// RemoveFolder drops a folder record. The engine has already verified the
// folder is empty.
func (idx *Index) RemoveFolder(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, ok := idx.folders[id]
	if !ok {
		return fmt.Errorf("folder %q: %w", id, ErrNotFound)
	}
	delete(idx.folders, id)
	if err := idx.saveSidecarLocked(); err != nil {
		idx.folders[id] = old
		return err
	}
	return nil
}

// SetFolderParent reparents a folder, re-checking cycle and sibling-name
// invariants.
func (idx *Index) SetFolderParent(id, parentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f, ok := idx.folders[id]
	if !ok {
		return fmt.Errorf("folder %q: %w", id, ErrNotFound)
	}
	if parentID != "" {
		if _, ok := idx.folders[parentID]; !ok {
			return fmt.Errorf("destination folder %q: %w", parentID, ErrNotFound)
		}
		for cur := parentID; cur != ""; {
			if cur == id {
				return fmt.Errorf("cannot move a folder into its own subtree: %w", ErrConflict)
			}
			p, ok := idx.folders[cur]
			if !ok {
				break
			}
			cur = p.ParentID
		}
	}
	for _, sib := range idx.folders {
		if sib.ID != id && sib.ParentID == parentID && sib.Name == f.Name {
			return fmt.Errorf("folder %q already exists at destination: %w", f.Name, ErrConflict)
		}
	}
	oldParent := f.ParentID
	f.ParentID = parentID
	if err := idx.saveSidecarLocked(); err != nil {
		f.ParentID = oldParent
		return err
	}
	return nil
}

// AddFile registers a file record. The filename must be globally unique.
func (idx *Index) AddFile(f File) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if f.FolderID != "" {
		if _, ok := idx.folders[f.FolderID]; !ok {
			return fmt.Errorf("folder %q: %w", f.FolderID, ErrNotFound)
		}
	}
	if _, ok := idx.files[f.Name]; ok {
		return fmt.Errorf("file %q already exists: %w", f.Name, ErrConflict)
	}
	idx.files[f.Name] = &f
	return nil
}

// RemoveFile drops a file record.
func (idx *Index) RemoveFile(name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.files[name]; !ok {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	delete(idx.files, name)
	return nil
}

// SetFileFolder updates a file's owning folder.
func (idx *Index) SetFileFolder(name, folderID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f, ok := idx.files[name]
	if !ok {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	if folderID != "" {
		if _, ok := idx.folders[folderID]; !ok {
			return fmt.Errorf("destination folder %q: %w", folderID, ErrNotFound)
		}
	}
	f.FolderID = folderID
	return nil
}

// SetImageInfo records the pipeline's verdict for a file.
func (idx *Index) SetImageInfo(name string, width, height int, isImage, hasThumb, hasLossless bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	f, ok := idx.files[name]
	if !ok {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	f.Width, f.Height = width, height
	f.IsImage = isImage
	f.HasThumbnail = hasThumb
	f.HasLossless = hasLossless
	return nil
}
