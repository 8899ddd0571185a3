package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

func (s *Server) handleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	st := s.svc.Status(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"index_size":    st.IndexSize,
		"state":         st.State,
		"models_loaded": st.ModelsReady,
		"store_type":    st.StoreType,
	})
}

func (s *Server) handleLegacyAdd(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, fh, err := formImage(r, "image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.svc.Add(r.Context(), uploadInput(r, fh, data))
	if err != nil {
		s.respondServiceError(w, "add image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "image added", "path": resp.ID})
}

func (s *Server) handleLegacyAddBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	inputs, err := batchInputs(r, "images")
	if err != nil || len(inputs) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files sent")
		return
	}
	resp, err := s.svc.AddBatch(r.Context(), inputs)
	if err != nil {
		s.respondServiceError(w, "add batch", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("added %d images", resp.Added),
		"added":   resp.IDs,
		"total":   resp.Size,
	})
}

// handleLegacySearch answers with a bare list of ids. Failures yield an empty list.
func (s *Server) handleLegacySearch(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if err := s.parseMultipart(w, r); err != nil {
		s.respondJSON(w, http.StatusOK, ids)
		return
	}
	data, _, err := formImage(r, "image")
	if err != nil {
		s.respondJSON(w, http.StatusOK, ids)
		return
	}
	resp, err := s.svc.Search(r.Context(), data, 0)
	if err != nil {
		s.logger.Warn("search failed", zap.Error(err))
		s.respondJSON(w, http.StatusOK, ids)
		return
	}
	s.respondJSON(w, http.StatusOK, resp.IDs)
}

func (s *Server) handleLegacyDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Filename == "" {
		s.respondError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if _, err := s.svc.Delete(r.Context(), body.Filename); err != nil {
		s.respondServiceError(w, "delete image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "image deleted", "filename": body.Filename})
}

func (s *Server) handleLegacyReload(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Rebuild(r.Context())
	if err != nil {
		s.respondServiceError(w, "reload", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "index reloaded",
		"total_images": resp.Total,
	})
}

func (s *Server) handleLegacyReset(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Reset(r.Context())
	if err != nil {
		s.respondServiceError(w, "reset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": resp.Message})
}
