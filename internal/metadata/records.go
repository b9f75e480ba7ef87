package metadata

import "time"

// Folder is a node in the logical tree. An empty ParentID means the library
// root, which itself has no record.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// File is an indexed original. Filename is globally unique and acts as the
// file's identifier. Width/Height and the derivative flags are filled in by
// the pipeline once the content has actually been decoded.
type File struct {
	Name         string
	FolderID     string
	Size         int64
	MimeType     string
	UploadedAt   time.Time
	IsImage      bool
	Width        int
	Height       int
	HasThumbnail bool
	HasLossless  bool
}

// Stats are derived at read time rather than maintained incrementally: with
// the filesystem as the only store there is no transaction to keep cached
// counters honest, so we pay the walk on read instead. FileCount and
// FolderCount are direct children; Size is the transitive sum of contained
// file sizes.
type Stats struct {
	FileCount   int
	FolderCount int
	Size        int64
}
