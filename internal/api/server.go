// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/archive"
	"github.com/snapbin/snapbin/internal/config"
	"github.com/snapbin/snapbin/internal/events"
	"github.com/snapbin/snapbin/internal/gallery"
	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/naming"
	"github.com/snapbin/snapbin/internal/storage"
)

const defaultPerPage = 100

// Version is reported by the health endpoint.
const Version = "1.0"

// Server is the HTTP server.
type Server struct {
	engine      *storage.Engine
	broadcaster *events.Broadcaster
	processor   *gallery.Processor
	baseURL     string
	importLimit archive.Limits
	startedAt   time.Time
}

// NewServer creates a new server.
func NewServer(engine *storage.Engine, broadcaster *events.Broadcaster, processor *gallery.Processor, cfg *config.Config) *Server {
	return &Server{
		engine:      engine,
		broadcaster: broadcaster,
		processor:   processor,
		baseURL:     cfg.BaseURL,
		importLimit: archive.Limits{
			MaxEntries: cfg.ImportMaxEntries,
			MaxBytes:   cfg.ImportMaxBytes,
		},
		startedAt: time.Now(),
	}
}

// Handler builds the route table with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("DELETE /api/files/{filename}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/files/{filename}/move", s.handleMoveFile)
	mux.HandleFunc("POST /api/files/{filename}/regenerate", s.handleRegenerate)

	mux.HandleFunc("GET /api/folders", s.handleListFolders)
	mux.HandleFunc("POST /api/folders", s.handleCreateFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", s.handleDeleteFolder)
	mux.HandleFunc("POST /api/folders/{id}/move", s.handleMoveFolder)

	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /uploads/{path...}", s.handleContent)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	folders, files := s.engine.Index().Counts()
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"upload_dir":     s.engine.Root(),
		"folders":        folders,
		"files":          files,
	})
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	files, err := s.engine.Index().Files(folderID)
	if err != nil {
		s.fail(w, err)
		return
	}

	// Pages are zero-indexed.
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 0 {
		page = 0
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 1000 {
		perPage = defaultPerPage
	}

	total := len(files)
	lo := page * perPage
	if lo > total {
		lo = total
	}
	hi := lo + perPage
	if hi > total {
		hi = total
	}

	resp := FileListResponse{
		Files:       make([]FileInfo, 0, hi-lo),
		Breadcrumbs: s.breadcrumbs(folderID),
		Page:        page,
		PerPage:     perPage,
		Total:       total,
		TotalPages:  (total + perPage - 1) / perPage,
	}
	for _, f := range files[lo:hi] {
		resp.Files = append(resp.Files, s.fileInfo(f))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart body required")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FileName() == "" {
			// Allow folder_id as a form field too.
			if part.FormName() == "folder_id" {
				v, _ := io.ReadAll(io.LimitReader(part, 256))
				folderID = strings.TrimSpace(string(v))
			}
			part.Close()
			continue
		}

		f, err := s.engine.Upload(r.Context(), part.FileName(), folderID, part)
		part.Close()
		if err != nil {
			s.fail(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, UploadResponse{File: s.fileInfo(f)})
		return
	}
	s.sendError(w, http.StatusBadRequest, "no file part in request")
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteFile(r.PathValue("filename")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FolderID string `json:"folder_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := r.PathValue("filename")
	if err := s.engine.MoveFile(name, req.FolderID); err != nil {
		s.fail(w, err)
		return
	}
	f, err := s.engine.Index().File(name)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.fileInfo(f))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if _, err := s.engine.Index().File(name); err != nil {
		s.fail(w, err)
		return
	}
	if s.processor != nil {
		s.processor.Enqueue(name)
	}
	w.WriteHeader(http.StatusAccepted)
}

// ─── Folders ────────────────────────────────────────────────────────────────

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	subs, err := s.engine.Index().Subfolders(folderID)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := FolderListResponse{
		Folders:     make([]FolderInfo, 0, len(subs)),
		Breadcrumbs: s.breadcrumbs(folderID),
	}
	if folderID != "" {
		if current, err := s.engine.Index().Folder(folderID); err == nil {
			info := s.folderInfo(current)
			resp.CurrentFolder = &info
		}
	}
	for _, f := range subs {
		resp.Folders = append(resp.Folders, s.folderInfo(f))
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID string `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	f, err := s.engine.CreateFolder(req.Name, req.ParentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, s.folderInfo(f))
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteFolder(r.PathValue("id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	if err := s.engine.MoveFolder(id, req.ParentID); err != nil {
		s.fail(w, err)
		return
	}
	f, err := s.engine.Index().Folder(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, s.folderInfo(f))
}

// ─── Archive ────────────────────────────────────────────────────────────────

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")
	originalsOnly, _ := strconv.ParseBool(r.URL.Query().Get("originals_only"))
	if err := s.engine.Index().ResolveFolder(folderID); err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="library.zip"`)
	if err := archive.Export(w, s.engine, folderID, originalsOnly); err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		logging.Error("export failed mid-stream", zap.Error(err))
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	folderID := r.URL.Query().Get("folder_id")

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		mr, err := r.MultipartReader()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		part, err := findFilePart(mr)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "no archive part in request")
			return
		}
		defer part.Close()
		body = part
	}

	sum, err := archive.Import(r.Context(), s.engine, body, folderID, s.importLimit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sum)
}

func findFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Content ────────────────────────────────────────────────────────────────

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean(r.PathValue("path"))
	if rel == "." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "\\") {
		s.sendError(w, http.StatusBadRequest, "invalid path")
		return
	}
	// Derivative mirror trees are servable; everything else dotted or
	// reserved is not.
	first := strings.SplitN(rel, "/", 2)[0]
	if first == naming.TempDir || rel == naming.SidecarFile {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			s.sendError(w, http.StatusNotFound, "not found")
			return
		}
	}

	abs := filepath.Join(s.engine.Root(), filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		s.sendError(w, http.StatusNotFound, "not found")
		return
	}
	metrics.RecordDownloadBytes(info.Size())
	http.ServeFile(w, r, abs)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// fail maps the engine's error taxonomy onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metadata.ErrTooLarge):
		s.sendError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, metadata.ErrValidation):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metadata.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, metadata.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		logging.Error("internal error", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}
