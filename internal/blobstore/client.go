package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTimeout bounds a single call to the model server.
const DefaultTimeout = 5 * time.Minute

// maxErrorBody caps how much of a non-JSON error body is echoed back.
const maxErrorBody = 512

// Result is the envelope returned by every model server call. Failures are
// reported through Success and Error, never as a Go error.
type Result struct {
	Success    bool   `json:"success"`
	ServerPath string `json:"server_path,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Files      []File `json:"files,omitempty"`
}

// File describes a stored model file.
type File struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Modified float64 `json:"modified"`
}

// ModifiedAt converts the server's epoch seconds to a time.
func (f File) ModifiedAt() time.Time {
	sec := int64(f.Modified)
	return time.Unix(sec, int64((f.Modified-float64(sec))*float64(time.Second))).UTC()
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Client talks to the remote model storage server. Files live under a
// directory per owner; the server rejects paths outside it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client. A zero timeout means DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upload stores data as modelName under the owner's directory, optionally
// inside subDirectory. On success Result.ServerPath holds the stored path.
func (c *Client) Upload(ctx context.Context, owner, modelName, subDirectory string, data io.Reader) Result {
	if owner == "" || modelName == "" {
		return failure("missing username or model_name")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", modelName)
	if err != nil {
		return failure("%v", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return failure("read model data: %v", err)
	}
	for field, value := range map[string]string{
		"username":      owner,
		"model_name":    modelName,
		"sub_directory": subDirectory,
	} {
		if err := writer.WriteField(field, value); err != nil {
			return failure("%v", err)
		}
	}
	if err := writer.Close(); err != nil {
		return failure("%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/upload", body)
	if err != nil {
		return failure("%v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.doJSON(req)
}

// Delete removes serverPath, which must belong to owner.
func (c *Client) Delete(ctx context.Context, owner, serverPath string) Result {
	if owner == "" || serverPath == "" {
		return failure("missing username or server_path")
	}
	req, err := c.jsonRequest(ctx, http.MethodDelete, "/models/delete", map[string]string{
		"username":    owner,
		"server_path": serverPath,
	})
	if err != nil {
		return failure("%v", err)
	}
	return c.doJSON(req)
}

// Download copies the content of serverPath into dst.
func (c *Client) Download(ctx context.Context, owner, serverPath string, dst io.Writer) Result {
	if owner == "" || serverPath == "" {
		return failure("missing username or server_path")
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/models/download", map[string]string{
		"username":    owner,
		"server_path": serverPath,
	})
	if err != nil {
		return failure("%v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure("%v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return decodeResult(resp)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return failure("read download: %v", err)
	}
	return Result{Success: true, ServerPath: serverPath}
}

// List returns every file stored for owner.
func (c *Client) List(ctx context.Context, owner string) Result {
	if owner == "" {
		return failure("missing username")
	}
	req, err := c.jsonRequest(ctx, http.MethodPost, "/models/list", map[string]string{"username": owner})
	if err != nil {
		return failure("%v", err)
	}
	return c.doJSON(req)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doJSON(req *http.Request) Result {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure("%v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return decodeResult(resp)
}

func decodeResult(resp *http.Response) Result {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure("read response: %v", err)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		text := truncate(strings.TrimSpace(string(raw)), maxErrorBody)
		return failure("HTTP %d: %s", resp.StatusCode, text)
	}
	if resp.StatusCode != http.StatusOK {
		result.Success = false
		if result.Error == "" {
			result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
	}
	if !result.Success && result.Error == "" {
		result.Error = "unknown error"
	}
	return result
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
