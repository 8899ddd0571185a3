package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/kagami/internal/feature"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/gallery"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/index"
	"github.com/hyperjump/kagami/internal/models"
	"go.uber.org/zap"
)

const multipartMemory = 8 << 20

var errNoImage = errors.New("no image uploaded")

func (s *Server) maxUploadBytes() int64 {
	if s.config.MaxUploadMB > 0 {
		return s.config.MaxUploadMB << 20
	}
	return 32 << 20
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return fmt.Errorf("invalid multipart form: %w", err)
	}
	return nil
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// formImage reads the single file uploaded under field.
func formImage(r *http.Request, field string) ([]byte, *multipart.FileHeader, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, nil, fmt.Errorf("%w: missing %q file", errNoImage, field)
	}
	fh := r.MultipartForm.File[field][0]
	data, err := readUpload(fh)
	if err != nil {
		return nil, nil, err
	}
	return data, fh, nil
}

func uploadInput(r *http.Request, fh *multipart.FileHeader, data []byte) *models.ImageInput {
	in := &models.ImageInput{
		ID:       r.FormValue("id"),
		Folder:   r.FormValue("folder"),
		Customer: r.FormValue("customer"),
		Data:     data,
	}
	if in.ID == "" {
		in.ID = fh.Filename
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		in.ContentType = ct
	}
	return in
}

func batchInputs(r *http.Request, field string) ([]*models.ImageInput, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File[field]) == 0 {
		return nil, fmt.Errorf("%w: missing %q files", errNoImage, field)
	}
	files := r.MultipartForm.File[field]
	folder := r.FormValue("folder")
	customer := r.FormValue("customer")
	inputs := make([]*models.ImageInput, 0, len(files))
	for _, fh := range files {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		data, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, &models.ImageInput{ID: fh.Filename, Folder: folder, Customer: customer, Data: data})
	}
	return inputs, nil
}

func parseK(r *http.Request) (int, error) {
	v := r.URL.Query().Get("k")
	if v == "" {
		v = r.FormValue("k")
	}
	if v == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 0 {
		return 0, fmt.Errorf("k must be a non-negative integer")
	}
	return k, nil
}

func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, fh, err := formImage(r, "image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := uploadInput(r, fh, data)
	s.logger.Debug("add image request", zap.String("id", in.ID), zap.Int("bytes", len(data)))
	resp, err := s.svc.Add(r.Context(), in)
	if err != nil {
		s.respondServiceError(w, "add image", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	inputs, err := batchInputs(r, "images")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("add batch request", zap.Int("images", len(inputs)))
	resp, err := s.svc.AddBatch(r.Context(), inputs)
	if err != nil {
		s.respondServiceError(w, "add batch", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := parseK(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, _, err := formImage(r, "image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.svc.Search(r.Context(), data, k)
	if err != nil {
		s.respondServiceError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := &models.LookupQuery{Query: r.URL.Query().Get("q")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = n
	}
	q.Fuzzy, _ = strconv.ParseBool(r.URL.Query().Get("fuzzy"))
	results, err := s.svc.Lookup(r.Context(), q)
	if err != nil {
		s.respondServiceError(w, "lookup", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, "get image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, img)
}

func (s *Server) handleRawImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := s.svc.Raw(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, "get raw image", err)
		return
	}
	ct := fileid.ContentType(id)
	if ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete image request", zap.String("id", id))
	resp, err := s.svc.Delete(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, "delete image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Rebuild(r.Context())
	if err != nil {
		s.respondServiceError(w, "rebuild", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Sync(r.Context())
	if err != nil {
		s.respondServiceError(w, "sync", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Reset(r.Context())
	if err != nil {
		s.respondServiceError(w, "reset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusCode maps service errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gallery.ErrInvalidInput), errors.Is(err, imagestore.ErrInvalidID), errors.Is(err, errNoImage):
		return http.StatusBadRequest
	case errors.Is(err, index.ErrDimensionMismatch), errors.Is(err, index.ErrPipeline), errors.Is(err, feature.ErrPipeline):
		return http.StatusUnprocessableEntity
	case errors.Is(err, index.ErrCorrupt), errors.Is(err, index.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, op string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Int("status", code), zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
