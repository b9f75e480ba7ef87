package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/naming"
)

// The sidecar keeps folder IDs and creation times stable across restarts.
// The directory tree on disk stays authoritative: entries whose directory
// vanished are pruned on load, and directories without an entry get fresh
// IDs.

func (idx *Index) sidecarPath() string {
	return filepath.Join(idx.root, naming.SidecarFile)
}

func (idx *Index) readSidecar() map[string]*Folder {
	data, err := os.ReadFile(idx.sidecarPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("sidecar unreadable, folder IDs will be regenerated", zap.Error(err))
		}
		return nil
	}
	var folders map[string]*Folder
	if err := json.Unmarshal(data, &folders); err != nil {
		logging.Warn("sidecar corrupt, folder IDs will be regenerated", zap.Error(err))
		return nil
	}
	return folders
}

// sidecarPaths resolves each sidecar folder to its slash path, dropping
// entries whose parent chain is broken or cyclic.
func sidecarPaths(folders map[string]*Folder) map[string]*Folder {
	byPath := make(map[string]*Folder, len(folders))
	for _, f := range folders {
		segs := []string{}
		ok := true
		for cur, depth := f, 0; ; depth++ {
			if depth > len(folders) {
				ok = false
				break
			}
			segs = append([]string{cur.Name}, segs...)
			if cur.ParentID == "" {
				break
			}
			parent, found := folders[cur.ParentID]
			if !found {
				ok = false
				break
			}
			cur = parent
		}
		if ok {
			byPath[strings.Join(segs, "/")] = f
		}
	}
	return byPath
}

// saveSidecarLocked writes the folder table atomically (temp then rename).
// Callers hold the index lock.
func (idx *Index) saveSidecarLocked() error {
	data, err := json.MarshalIndent(idx.folders, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	tmp, err := os.CreateTemp(idx.root, ".folders-*.tmp")
	if err != nil {
		return fmt.Errorf("create sidecar temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close sidecar temp: %w", err)
	}
	if err := os.Rename(tmpName, idx.sidecarPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename sidecar into place: %w", err)
	}
	return nil
}
