package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

// Client talks to a running kagami server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var body struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &body) == nil && body.Error != "" {
			msg = body.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

type formFile struct {
	name string
	data []byte
}

func multipartRequest(field string, files []formFile, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Add uploads one image.
func (c *Client) Add(ctx context.Context, in *models.ImageInput) (*models.AddResponse, error) {
	name := in.ID
	if name == "" {
		name = "upload"
	}
	body, ct, err := multipartRequest("image", []formFile{{name, in.Data}}, map[string]string{
		"id":       in.ID,
		"folder":   in.Folder,
		"customer": in.Customer,
	})
	if err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodPost, "/api/v1/images", body, ct)
	if err != nil {
		return nil, err
	}
	var out models.AddResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddBatch uploads several images in one request.
func (c *Client) AddBatch(ctx context.Context, inputs []*models.ImageInput) (*models.BatchResponse, error) {
	files := make([]formFile, len(inputs))
	var folder, customer string
	for i, in := range inputs {
		files[i] = formFile{in.ID, in.Data}
		folder, customer = in.Folder, in.Customer
	}
	body, ct, err := multipartRequest("images", files, map[string]string{"folder": folder, "customer": customer})
	if err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodPost, "/api/v1/images/batch", body, ct)
	if err != nil {
		return nil, err
	}
	var out models.BatchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search finds the k images most similar to img.
func (c *Client) Search(ctx context.Context, img []byte, k int) (*models.SearchResponse, error) {
	body, ct, err := multipartRequest("image", []formFile{{"query", img}}, nil)
	if err != nil {
		return nil, err
	}
	path := "/api/v1/search"
	if k > 0 {
		path += "?k=" + strconv.Itoa(k)
	}
	req, err := c.request(ctx, http.MethodPost, path, body, ct)
	if err != nil {
		return nil, err
	}
	var out models.SearchResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes an image by id.
func (c *Client) Delete(ctx context.Context, id string) (*models.DeleteResponse, error) {
	req, err := c.request(ctx, http.MethodDelete, "/api/v1/images/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	var out models.DeleteResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) maintenance(ctx context.Context, op string, out interface{}) error {
	req, err := c.request(ctx, http.MethodPost, "/api/v1/index/"+op, nil, "")
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Rebuild re-embeds every stored image.
func (c *Client) Rebuild(ctx context.Context) (*models.RebuildResponse, error) {
	var out models.RebuildResponse
	if err := c.maintenance(ctx, "rebuild", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync embeds stored images missing from the index.
func (c *Client) Sync(ctx context.Context) (*models.RebuildResponse, error) {
	var out models.RebuildResponse
	if err := c.maintenance(ctx, "sync", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reset clears the index and every stored image.
func (c *Client) Reset(ctx context.Context) (*models.ResetResponse, error) {
	var out models.ResetResponse
	if err := c.maintenance(ctx, "reset", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup searches image names and metadata.
func (c *Client) Lookup(ctx context.Context, q *models.LookupQuery) ([]*models.LookupResult, error) {
	v := url.Values{}
	v.Set("q", q.Query)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Fuzzy {
		v.Set("fuzzy", "true")
	}
	req, err := c.request(ctx, http.MethodGet, "/api/v1/images?"+v.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []*models.LookupResult `json:"results"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Status fetches the service status.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	req, err := c.request(ctx, http.MethodGet, "/api/v1/status", nil, "")
	if err != nil {
		return nil, err
	}
	var out models.Status
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
