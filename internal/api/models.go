package api

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/naming"
)

// ErrorResponse is the JSON body for all error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// FileURLs points at a file's original bytes and its derivatives. Thumbnail
// and Lossless are empty until the pipeline has produced them.
type FileURLs struct {
	Original  string `json:"original"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Lossless  string `json:"lossless,omitempty"`
}

// FileInfo is the wire representation of an indexed file.
type FileInfo struct {
	Name       string    `json:"name"`
	FolderID   string    `json:"folder_id,omitempty"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
	IsImage    bool      `json:"is_image"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	URLs       FileURLs  `json:"urls"`
}

// FolderInfo is the wire representation of a folder with its derived stats.
type FolderInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	FileCount   int       `json:"file_count"`
	FolderCount int       `json:"folder_count"`
	Size        int64     `json:"size"`
}

// Breadcrumb is one step in the ancestor chain of the current folder.
type Breadcrumb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FileListResponse is a paginated file listing for one folder. Pages are
// zero-indexed.
type FileListResponse struct {
	Files       []FileInfo   `json:"files"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Page        int          `json:"page"`
	PerPage     int          `json:"per_page"`
	Total       int          `json:"total"`
	TotalPages  int          `json:"total_pages"`
}

// FolderListResponse lists the subfolders of one folder. CurrentFolder is
// nil when listing the library root, which has no record of its own.
type FolderListResponse struct {
	Folders       []FolderInfo `json:"folders"`
	CurrentFolder *FolderInfo  `json:"current_folder,omitempty"`
	Breadcrumbs   []Breadcrumb `json:"breadcrumbs"`
}

// UploadResponse is returned for a successful upload.
type UploadResponse struct {
	File FileInfo `json:"file"`
}

// fileInfo builds the wire form of a file, including its content URLs.
func (s *Server) fileInfo(f metadata.File) FileInfo {
	info := FileInfo{
		Name:       f.Name,
		FolderID:   f.FolderID,
		Size:       f.Size,
		MimeType:   f.MimeType,
		UploadedAt: f.UploadedAt,
		IsImage:    f.IsImage,
		Width:      f.Width,
		Height:     f.Height,
	}
	rel, err := s.engine.Index().FilePath(f.Name)
	if err != nil {
		return info
	}
	info.URLs.Original = s.contentURL(rel)
	if f.HasThumbnail {
		info.URLs.Thumbnail = s.contentURL(path.Join(naming.ThumbsDir, rel))
	}
	if f.HasLossless {
		info.URLs.Lossless = s.contentURL(path.Join(naming.QOIDir, rel))
	}
	return info
}

func (s *Server) contentURL(rel string) string {
	segs := strings.Split(rel, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/uploads/" + strings.Join(segs, "/")
}

func (s *Server) folderInfo(f metadata.Folder) FolderInfo {
	info := FolderInfo{
		ID:        f.ID,
		Name:      f.Name,
		ParentID:  f.ParentID,
		CreatedAt: f.CreatedAt,
	}
	if stats, err := s.engine.Index().Stats(f.ID); err == nil {
		info.FileCount = stats.FileCount
		info.FolderCount = stats.FolderCount
		info.Size = stats.Size
	}
	return info
}

func (s *Server) breadcrumbs(folderID string) []Breadcrumb {
	out := []Breadcrumb{}
	chain, err := s.engine.Index().Breadcrumbs(folderID)
	if err != nil {
		return out
	}
	for _, f := range chain {
		out = append(out, Breadcrumb{ID: f.ID, Name: f.Name})
	}
	return out
}
