// Package client is the HTTP client the safe CLI talks to the API with.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/abdul-hamid-achik/safe/internal/config"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

type apiError struct {
	Description string `json:"description"`
	Code        int    `json:"code"`
}

func (e *apiError) Error() string {
	return e.Description
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("token", c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", "safe-cli/"+config.Version)
	return c.httpClient.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any, headers map[string]string) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.doRequest(ctx, method, path, body, "application/json", headers)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}
	if respBody != nil {
		return json.NewDecoder(resp.Body).Decode(respBody)
	}
	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Description != "" {
		return &apiErr
	}
	return fmt.Errorf("request failed with status %d", resp.StatusCode)
}

// Check fetches the server capabilities.
func (c *Client) Check(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/check", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", body, &out, nil); err != nil {
		return "", err
	}
	return out.Token, nil
}

// UploadedFile is one entry of an upload response.
type UploadedFile struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	Repeated bool   `json:"repeated"`
}

// Upload streams one local file as a multipart upload, drawing a progress
// bar on the way up.
func (c *Client) Upload(ctx context.Context, path string, albumID string, age string, showProgress bool) ([]UploadedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("files[]", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		var src io.Reader = f
		if showProgress {
			bar := progressbar.DefaultBytes(st.Size(), filepath.Base(path))
			src = io.TeeReader(f, bar)
		}
		if _, err := io.Copy(part, src); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	headers := map[string]string{}
	if albumID != "" {
		headers["albumid"] = albumID
	}
	if age != "" {
		headers["age"] = age
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/upload", pr, mw.FormDataContentType(), headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return nil, c.parseError(resp)
	}

	var out struct {
		Files []UploadedFile `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// FileRecord is one row of a list response.
type FileRecord struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Original   string `json:"original"`
	Size       int64  `json:"size"`
	Timestamp  int64  `json:"timestamp"`
	ExpiryDate int64  `json:"expirydate"`
	URL        string `json:"url"`
}

// List fetches a page of the caller's uploads.
func (c *Client) List(ctx context.Context, page int, filters string) ([]FileRecord, int64, error) {
	headers := map[string]string{}
	if filters != "" {
		headers["filters"] = filters
	}
	var out struct {
		Files []FileRecord `json:"files"`
		Count int64        `json:"count"`
	}
	path := "/api/uploads"
	if page > 0 {
		path = fmt.Sprintf("/api/uploads/%d", page)
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out, headers); err != nil {
		return nil, 0, err
	}
	return out.Files, out.Count, nil
}

// Delete removes uploads by name or id.
func (c *Client) Delete(ctx context.Context, field string, values []string) ([]string, error) {
	var out struct {
		Failed []string `json:"failed"`
	}
	body := map[string]any{"field": field, "values": values}
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/bulkdelete", body, &out, nil); err != nil {
		return nil, err
	}
	return out.Failed, nil
}

// CreateAlbum makes a new album and returns its id.
func (c *Client) CreateAlbum(ctx context.Context, name, description string) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	body := map[string]any{"name": name, "description": description}
	if err := c.doJSON(ctx, http.MethodPost, "/api/albums", body, &out, nil); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// DownloadAlbumZip streams an album archive to a local file.
func (c *Client) DownloadAlbumZip(ctx context.Context, identifier, dest string) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/album/zip/"+identifier, nil, "", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
