package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/wukibaka/cloudpaste/internal/vfs"
	"github.com/wukibaka/cloudpaste/pkg/types"
)

// multipartThreshold is the size above which uploads are steered to the
// frontend multipart protocol.
const multipartThreshold = 128 * 1024 * 1024

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	listing, err := s.fs.List(r.Context(), p, r.URL.Query().Get("path"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	info, err := s.fs.Info(r.Context(), p, r.URL.Query().Get("path"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, false)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, true)
}

// serveFile streams the object body. Ownership of the body transfers here
// and is released on every path.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, inline bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	resp, err := s.fs.Download(r.Context(), p, r.URL.Query().Get("path"), inline)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	defer resp.Body.Close()

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	if resp.ETag != "" {
		w.Header().Set("ETag", `"`+resp.ETag+`"`)
	}
	if !resp.LastModified.IsZero() {
		w.Header().Set("Last-Modified", resp.LastModified.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Content-Disposition", resp.Disposition)

	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("download stream interrupted", "error", err)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")

	size := r.ContentLength
	if size > multipartThreshold {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"useMultipart": true,
			"path":         path,
			"size":         size,
		})
		return
	}

	record, err := s.fs.Upload(r.Context(), p, path, r.Body, types.UploadOptions{
		Filename: r.URL.Query().Get("filename"),
		MimeType: r.Header.Get("Content-Type"),
		Size:     size,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"useMultipart": false,
		"path":         path,
		"size":         record.Size,
		"etag":         record.ETag,
		"fileId":       record.ID,
		"slug":         record.Slug,
	})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req pathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.fs.Mkdir(r.Context(), p, req.Path); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"path": req.Path})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := s.fs.Remove(r.Context(), p, r.URL.Query().Get("path")); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"removed": true})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		OldPath string `json:"oldPath"`
		NewPath string `json:"newPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.fs.Rename(r.Context(), p, req.OldPath, req.NewPath); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"renamed": true})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Source       string `json:"source"`
		Destination  string `json:"destination"`
		SkipExisting *bool  `json:"skipExisting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	skip := true
	if req.SkipExisting != nil {
		skip = *req.SkipExisting
	}
	outcome, err := s.fs.Copy(r.Context(), p, req.Source, req.Destination, types.CopyOptions{SkipExisting: skip})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleBatchRemove(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Paths []string `json:"paths"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.fs.BatchRemove(r.Context(), p, req.Paths)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatchCopy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Items        []vfs.CopyRequest `json:"items"`
		SkipExisting *bool             `json:"skipExisting"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	skip := true
	if req.SkipExisting != nil {
		skip = *req.SkipExisting
	}
	result, err := s.fs.BatchCopy(r.Context(), p, req.Items, skip)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var expires time.Duration
	if v := q.Get("expiresIn"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			s.respondError(w, http.StatusBadRequest, "expiresIn must be a positive integer")
			return
		}
		expires = time.Duration(secs) * time.Second
	}

	result, err := s.fs.Presign(r.Context(), p, q.Get("path"), types.PresignOptions{
		Method:        q.Get("method"),
		ExpiresIn:     expires,
		ForceDownload: q.Get("forceDownload") == "true",
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	params := vfs.SearchParams{
		Scope:   q.Get("scope"),
		MountID: q.Get("mount_id"),
		Dir:     q.Get("dir"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		params.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "offset must be an integer")
			return
		}
		params.Offset = n
	}

	result, err := s.fs.Search(r.Context(), p, q.Get("q"), params)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// Multipart handlers

func (s *Server) handleMultipartInit(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Path     string `json:"path"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
		PartSize int64  `json:"partSize"`
		MimeType string `json:"mimeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	init, err := s.fs.MultipartInit(r.Context(), p, req.Path, types.MultipartInitRequest{
		Filename: req.Filename,
		Size:     req.Size,
		PartSize: req.PartSize,
		MimeType: req.MimeType,
	})
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, init)
}

func (s *Server) handleMultipartComplete(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Path     string                `json:"path"`
		UploadID string                `json:"uploadId"`
		Parts    []types.MultipartPart `json:"parts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	record, err := s.fs.MultipartComplete(r.Context(), p, req.Path, req.UploadID, req.Parts)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"path":   req.Path,
		"etag":   record.ETag,
		"fileId": record.ID,
		"slug":   record.Slug,
	})
}

func (s *Server) handleMultipartAbort(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Path     string `json:"path"`
		UploadID string `json:"uploadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.fs.MultipartAbort(r.Context(), p, req.Path, req.UploadID); err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"aborted": true})
}

func (s *Server) handleMultipartList(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	uploads, err := s.fs.MultipartList(r.Context(), p, r.URL.Query().Get("path"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}

func (s *Server) handleMultipartParts(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	parts, err := s.fs.MultipartParts(r.Context(), p, q.Get("path"), q.Get("uploadId"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"parts": parts})
}

func (s *Server) handleMultipartRefresh(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	var req struct {
		Path        string  `json:"path"`
		UploadID    string  `json:"uploadId"`
		PartNumbers []int32 `json:"partNumbers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	urls, err := s.fs.MultipartRefresh(r.Context(), p, req.Path, req.UploadID, req.PartNumbers)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"urls": urls})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
