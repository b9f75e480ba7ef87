package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range []string{"photos/vacation", "docs"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := map[string]int{
		"readme.txt":                 10,
		"photos/cat.jpg":             100,
		"photos/vacation/beach.jpg":  200,
		"docs/notes.txt":             30,
	}
	for p, n := range files {
		if err := os.WriteFile(filepath.Join(root, p), make([]byte, n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func folderByName(t *testing.T, idx *Index, parentID, name string) Folder {
	t.Helper()
	f, ok := idx.ChildFolderByName(parentID, name)
	if !ok {
		t.Fatalf("folder %q not found under %q", name, parentID)
	}
	return f
}

func TestLoadIndexesTree(t *testing.T) {
	root := mkTree(t)
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	nf, nfi := idx.Counts()
	if nf != 3 || nfi != 4 {
		t.Fatalf("Counts = (%d, %d), want (3, 4)", nf, nfi)
	}

	photos := folderByName(t, idx, "", "photos")
	vacation := folderByName(t, idx, photos.ID, "vacation")

	f, err := idx.File("beach.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if f.FolderID != vacation.ID {
		t.Errorf("beach.jpg in folder %q, want %q", f.FolderID, vacation.ID)
	}
	if f.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q", f.MimeType)
	}
	if f.Size != 200 {
		t.Errorf("Size = %d, want 200", f.Size)
	}
}

func TestLoadSkipsReservedDirs(t *testing.T) {
	root := mkTree(t)
	if err := os.MkdirAll(filepath.Join(root, "_thumbs", "photos"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "_thumbs", "photos", "cat.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.ChildFolderByName("", "_thumbs"); ok {
		t.Error("_thumbs indexed as a folder")
	}
	f, err := idx.File("cat.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !f.HasThumbnail || !f.IsImage {
		t.Error("derivative presence not detected from mirror tree")
	}
}

func TestFolderIDsStableAcrossReload(t *testing.T) {
	root := mkTree(t)
	idx1, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	photos1 := folderByName(t, idx1, "", "photos")
	vacation1 := folderByName(t, idx1, photos1.ID, "vacation")

	idx2, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	photos2 := folderByName(t, idx2, "", "photos")
	vacation2 := folderByName(t, idx2, photos2.ID, "vacation")
	if photos1.ID != photos2.ID || vacation1.ID != vacation2.ID {
		t.Error("folder IDs changed across reload")
	}
}

func TestBreadcrumbs(t *testing.T) {
	root := mkTree(t)
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	photos := folderByName(t, idx, "", "photos")
	vacation := folderByName(t, idx, photos.ID, "vacation")

	chain, err := idx.Breadcrumbs(vacation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].Name != "photos" || chain[1].Name != "vacation" {
		t.Fatalf("Breadcrumbs = %+v", chain)
	}

	chain, err = idx.Breadcrumbs("")
	if err != nil || len(chain) != 0 {
		t.Errorf("root breadcrumbs = %+v, err %v", chain, err)
	}
}

func TestStatsAggregatesSubtreeSize(t *testing.T) {
	root := mkTree(t)
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	photos := folderByName(t, idx, "", "photos")

	s, err := idx.Stats(photos.ID)
	if err != nil {
		t.Fatal(err)
	}
	// cat.jpg directly, beach.jpg one level down.
	if s.FileCount != 1 || s.FolderCount != 1 || s.Size != 300 {
		t.Errorf("Stats = %+v, want {1 1 300}", s)
	}

	s, err = idx.Stats("")
	if err != nil {
		t.Fatal(err)
	}
	if s.FileCount != 1 || s.FolderCount != 2 || s.Size != 340 {
		t.Errorf("root Stats = %+v, want {1 2 340}", s)
	}
}

func TestListingsSortedByName(t *testing.T) {
	root := mkTree(t)
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	subs, err := idx.Subfolders("")
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].Name != "docs" || subs[1].Name != "photos" {
		t.Errorf("Subfolders order = %+v", subs)
	}
}

func TestAddFolderConflicts(t *testing.T) {
	idx, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := Folder{ID: "a", Name: "stuff", CreatedAt: time.Now()}
	if err := idx.AddFolder(a); err != nil {
		t.Fatal(err)
	}
	dup := Folder{ID: "b", Name: "stuff", CreatedAt: time.Now()}
	if err := idx.AddFolder(dup); !errors.Is(err, ErrConflict) {
		t.Errorf("sibling name collision: err = %v, want ErrConflict", err)
	}
	orphan := Folder{ID: "c", Name: "x", ParentID: "nope"}
	if err := idx.AddFolder(orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent: err = %v, want ErrNotFound", err)
	}
}

func TestSetFolderParentRejectsCycle(t *testing.T) {
	idx, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.AddFolder(Folder{ID: "a", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddFolder(Folder{ID: "b", Name: "b", ParentID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.SetFolderParent("a", "b"); !errors.Is(err, ErrConflict) {
		t.Errorf("move into own subtree: err = %v, want ErrConflict", err)
	}
	if err := idx.SetFolderParent("a", "a"); !errors.Is(err, ErrConflict) {
		t.Errorf("move into itself: err = %v, want ErrConflict", err)
	}
	if err := idx.SetFolderParent("b", ""); err != nil {
		t.Errorf("move to root: %v", err)
	}
}

func TestAddFileGloballyUnique(t *testing.T) {
	idx, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.AddFolder(Folder{ID: "a", Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddFile(File{Name: "x.txt", FolderID: ""}); err != nil {
		t.Fatal(err)
	}
	// Same name in a different folder still collides.
	if err := idx.AddFile(File{Name: "x.txt", FolderID: "a"}); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestIsDescendant(t *testing.T) {
	idx, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	idx.AddFolder(Folder{ID: "a", Name: "a"})
	idx.AddFolder(Folder{ID: "b", Name: "b", ParentID: "a"})
	idx.AddFolder(Folder{ID: "c", Name: "c"})
	if !idx.IsDescendant("a", "b") || !idx.IsDescendant("a", "a") {
		t.Error("subtree membership not detected")
	}
	if idx.IsDescendant("a", "c") {
		t.Error("unrelated folder reported as descendant")
	}
}

func TestFilePath(t *testing.T) {
	root := mkTree(t)
	idx, err := Load(root)
	if err != nil {
		t.Fatal(err)
	}
	p, err := idx.FilePath("beach.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if p != "photos/vacation/beach.jpg" {
		t.Errorf("FilePath = %q", p)
	}
}
