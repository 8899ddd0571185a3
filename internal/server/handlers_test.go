package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/feature"
	"github.com/hyperjump/kagami/internal/gallery"
	"github.com/hyperjump/kagami/internal/imagestore"
	"github.com/hyperjump/kagami/internal/index"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/persist"
	"github.com/hyperjump/kagami/internal/storage"
)

const testDims = 16

func newTestServer(t *testing.T) (*Server, *gallery.Service) {
	t.Helper()
	dir := t.TempDir()
	images, err := imagestore.NewLocalStore(filepath.Join(dir, "images"))
	if err != nil {
		t.Fatal(err)
	}
	ext := feature.NewMockExtractor(testDims)
	ext.FailOn = func(img []byte) error {
		if bytes.HasPrefix(img, []byte("bad")) {
			return errors.New("cannot decode image")
		}
		return nil
	}
	pipe := feature.NewPipeline(testDims, feature.Static(ext, nil), feature.WithCacheSize(0))
	t.Cleanup(func() { _ = pipe.Close() })
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	names, err := keyword.NewBleveIndex(filepath.Join(dir, "names"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = names.Close() })
	adapter, err := persist.NewAdapter(filepath.Join(dir, "index"), testDims, persist.CodecNone)
	if err != nil {
		t.Fatal(err)
	}
	manager, err := index.NewManager(testDims,
		index.WithPersister(adapter),
		index.WithSource(images.Get, pipe),
		index.WithPurge(gallery.NewPurger(images, catalog, names, nil)),
		index.WithFlushPolicy(index.Always{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	svc := gallery.NewService(images, pipe, manager, gallery.WithCatalog(catalog), gallery.WithNameIndex(names))
	cfg := &config.ServerConfig{Host: "localhost", Port: 0, MaxUploadMB: 1}
	return NewServer(svc, cfg, nil), svc
}

type upload struct {
	field, name, data string
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(f.data))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func addImage(t *testing.T, h http.Handler, name, data string) {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"folder": "summer"}, upload{"image", name, data})
	rec := do(t, h, http.MethodPost, "/api/v1/images", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add %s: status %d body %s", name, rec.Code, rec.Body.String())
	}
}

func TestHandleAddAndSearch(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	addImage(t, h, "red-dress.jpg", "red dress pixels")
	addImage(t, h, "blue-skirt.jpg", "blue skirt pixels")

	body, ct := multipartBody(t, nil, upload{"image", "query.jpg", "red dress pixels"})
	rec := do(t, h, http.MethodPost, "/api/v1/search?k=1", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 1 || resp.IDs[0] != "red-dress.jpg" {
		t.Errorf("ids=%v", resp.IDs)
	}
	if resp.Results[0].Image == nil || resp.Results[0].Image.Folder != "summer" {
		t.Errorf("hit metadata=%+v", resp.Results[0].Image)
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body, ct := multipartBody(t, nil)
	if rec := do(t, h, http.MethodPost, "/api/v1/search", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("missing image: status %d", rec.Code)
	}
	body, ct = multipartBody(t, nil, upload{"image", "q.jpg", "x"})
	if rec := do(t, h, http.MethodPost, "/api/v1/search?k=abc", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("bad k: status %d", rec.Code)
	}
	body, ct = multipartBody(t, nil, upload{"image", "q.jpg", "bad bytes"})
	if rec := do(t, h, http.MethodPost, "/api/v1/search", body, ct); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("undecodable image: status %d", rec.Code)
	}
	big := strings.Repeat("x", 2<<20)
	body, ct = multipartBody(t, nil, upload{"image", "q.jpg", big})
	if rec := do(t, h, http.MethodPost, "/api/v1/search", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized upload: status %d", rec.Code)
	}
}

func TestHandleAddBatch_PartialFailure(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	body, ct := multipartBody(t, nil,
		upload{"images", "a.jpg", "a pixels"},
		upload{"images", "b.jpg", "bad pixels"},
		upload{"images", "c.jpg", "c pixels"},
	)
	rec := do(t, h, http.MethodPost, "/api/v1/images/batch", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Added != 2 || resp.Errored != 1 || resp.Size != 2 {
		t.Errorf("batch=%+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].ID != "b.jpg" {
		t.Errorf("errors=%+v", resp.Errors)
	}
}

func TestHandleImageLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	addImage(t, h, "coat.png", "coat pixels")

	rec := do(t, h, http.MethodGet, "/api/v1/images/coat.png", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var img models.Image
	_ = json.Unmarshal(rec.Body.Bytes(), &img)
	if img.ID != "coat.png" || img.Folder != "summer" {
		t.Errorf("image=%+v", img)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/images/coat.png/raw", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "coat pixels" {
		t.Errorf("raw: status %d body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("raw content type=%q", ct)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/images?q=coat", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "coat.png") {
		t.Errorf("lookup: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/v1/images/coat.png", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}
	if rec = do(t, h, http.MethodDelete, "/api/v1/images/coat.png", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/v1/images/coat.png/raw", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("raw after delete: status %d", rec.Code)
	}
}

func TestHandleIndexMaintenance(t *testing.T) {
	srv, svc := newTestServer(t)
	h := srv.Handler()
	addImage(t, h, "a.jpg", "a pixels")
	addImage(t, h, "b.jpg", "b pixels")

	rec := do(t, h, http.MethodPost, "/api/v1/index/rebuild", nil, "")
	var rb models.RebuildResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &rb)
	if rec.Code != http.StatusOK || rb.Processed != 2 || rb.Total != 2 {
		t.Errorf("rebuild: status %d resp %+v", rec.Code, rb)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/index/sync", nil, "")
	_ = json.Unmarshal(rec.Body.Bytes(), &rb)
	if rec.Code != http.StatusOK || rb.Processed != 0 {
		t.Errorf("sync: status %d resp %+v", rec.Code, rb)
	}

	if rec = do(t, h, http.MethodPost, "/api/v1/index/reset", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("reset: status %d", rec.Code)
	}
	if st := svc.Status(context.Background()); st.IndexSize != 0 {
		t.Errorf("size after reset=%d", st.IndexSize)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/status", nil, "")
	var st models.Status
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if rec.Code != http.StatusOK || st.Dimensions != testDims {
		t.Errorf("status: %d %+v", rec.Code, st)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()
	if rec := do(t, h, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before models load: status %d", rec.Code)
	}
	addImage(t, h, "a.jpg", "a pixels")
	if rec := do(t, h, http.MethodGet, "/health", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("after models load: status %d", rec.Code)
	}
}

func TestLegacyRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	body, ct := multipartBody(t, nil, upload{"image", "shirt.jpg", "shirt pixels"})
	rec := do(t, h, http.MethodPost, "/add", body, ct)
	var added map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &added)
	if rec.Code != http.StatusOK || added["path"] != "shirt.jpg" {
		t.Errorf("add: %d %v", rec.Code, added)
	}

	body, ct = multipartBody(t, nil, upload{"images", "hat.jpg", "hat pixels"}, upload{"images", "sock.jpg", "sock pixels"})
	rec = do(t, h, http.MethodPost, "/add-batch", body, ct)
	var batch struct {
		Added []string `json:"added"`
		Total int      `json:"total"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &batch)
	if rec.Code != http.StatusOK || len(batch.Added) != 2 || batch.Total != 3 {
		t.Errorf("add-batch: %d %+v", rec.Code, batch)
	}

	body, ct = multipartBody(t, nil, upload{"image", "q.jpg", "hat pixels"})
	rec = do(t, h, http.MethodPost, "/search", body, ct)
	var ids []string
	_ = json.Unmarshal(rec.Body.Bytes(), &ids)
	if rec.Code != http.StatusOK || len(ids) != 3 || ids[0] != "hat.jpg" {
		t.Errorf("search: %d %v", rec.Code, ids)
	}

	body, ct = multipartBody(t, nil, upload{"image", "q.jpg", "bad pixels"})
	rec = do(t, h, http.MethodPost, "/search", body, ct)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("failed search: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/delete", bytes.NewBufferString(`{}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete without filename: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/delete", bytes.NewBufferString(`{"filename":"missing.jpg"}`), "application/json")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete unknown: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/delete", bytes.NewBufferString(`{"filename":"sock.jpg"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Errorf("delete: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/reload", nil, "")
	var reload struct {
		Total int `json:"total_images"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &reload)
	if rec.Code != http.StatusOK || reload.Total != 2 {
		t.Errorf("reload: %d %+v", rec.Code, reload)
	}

	rec = do(t, h, http.MethodGet, "/", nil, "")
	var st map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &st)
	if rec.Code != http.StatusOK || st["index_size"] != float64(2) || st["models_loaded"] != true {
		t.Errorf("status: %d %v", rec.Code, st)
	}

	if rec = do(t, h, http.MethodPost, "/reset", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("reset: %d", rec.Code)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", index.ErrNotFound), http.StatusNotFound},
		{gallery.ErrInvalidInput, http.StatusBadRequest},
		{imagestore.ErrInvalidID, http.StatusBadRequest},
		{index.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: decode", feature.ErrPipeline), http.StatusUnprocessableEntity},
		{index.ErrCorrupt, http.StatusConflict},
		{index.ErrDuplicate, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusCode(tt.err); got != tt.want {
			t.Errorf("statusCode(%v)=%d, want %d", tt.err, got, tt.want)
		}
	}
}
