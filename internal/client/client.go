// Package client is the HTTP boundary to the agent server. It issues the
// upload, work-submission, stop, clear, undo, and history requests; the
// streaming endpoints hand their raw chunked body back to the caller, which
// owns framing and decoding.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sightline/sightline/internal/log"
)

// allowedExtensions mirrors the server's upload allow-list. Checked before
// the request so an obviously wrong file never leaves the machine.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// Client talks to one agent server.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  log.Logger
}

// New creates a Client for the given base URL. timeout bounds the unary
// requests (upload, stop, clear, undo, history); streaming requests are
// bounded only by the caller's context, since a workflow can legitimately
// run for minutes.
func New(baseURL string, timeout time.Duration, logger log.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		logger:  logger,
	}
}

// UploadResult is the server's answer to a successful upload.
type UploadResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// WorkflowRequest starts a whole-task cycle: the server drives the full
// multi-round workflow and reports each round's response as a complete
// message.
type WorkflowRequest struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
}

// PredictRequest starts an incremental cycle: the server streams the answer
// for one image as token deltas.
type PredictRequest struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	ImgPath   string `json:"img_path"`
	MaxLength int    `json:"max_length"`
}

// Exchange is one task/response pair from the server's session history.
// On the wire it is a two-element JSON array.
type Exchange struct {
	Task     string
	Response string
}

// UnmarshalJSON decodes the [task, response] array form.
func (e *Exchange) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode history entry: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("history entry has %d elements, want 2", len(pair))
	}
	e.Task, e.Response = pair[0], pair[1]
	return nil
}

// errorResponse is the server's non-200 body shape.
type errorResponse struct {
	Error string `json:"error"`
}

// statusResponse is the server's acknowledgement body shape.
type statusResponse struct {
	Status  string     `json:"status"`
	History []Exchange `json:"history"`
}

// Upload sends the file at path as multipart form data and returns the
// server-side path and filename for later requests.
func (c *Client) Upload(ctx context.Context, path string) (UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return UploadResult{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadResult{}, fmt.Errorf("copy upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return UploadResult{}, serverError(resp.StatusCode, respBody)
	}

	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}

	c.logger.Info("image uploaded", "path", result.Path, "filename", result.Filename)
	return result, nil
}

// Workflow issues a whole-task request and returns the chunked response
// body. The caller owns the body and must close it; cancel ctx to abandon
// the stream.
func (c *Client) Workflow(ctx context.Context, req WorkflowRequest) (io.ReadCloser, error) {
	return c.stream(ctx, "/workflow", req)
}

// Predict issues an incremental request and returns the chunked response
// body. Ownership as for Workflow.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (io.ReadCloser, error) {
	return c.stream(ctx, "/predict", req)
}

// stream POSTs a JSON payload and hands back the raw body on 200.
func (c *Client) stream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, serverError(resp.StatusCode, respBody)
	}

	return resp.Body, nil
}

// Stop asks the server to halt the current generation. Best effort: the
// response is ignored beyond status logging, and the caller must not wait
// for acknowledgement before re-enabling submission.
func (c *Client) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stop", nil)
	if err != nil {
		return fmt.Errorf("create stop request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("stop request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("stop request rejected", "status", resp.StatusCode)
	}
	return nil
}

// Clear drops the server-side history for the session.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	_, err := c.postJSON(ctx, "/clear", map[string]string{"session_id": sessionID})
	return err
}

// Undo removes the last task/response exchange server-side and returns the
// remaining history.
func (c *Client) Undo(ctx context.Context, sessionID string) ([]Exchange, error) {
	return c.postJSON(ctx, "/undo", map[string]string{"session_id": sessionID})
}

// History fetches the session's task/response exchanges.
func (c *Client) History(ctx context.Context, sessionID string) ([]Exchange, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/history?" + url.Values{"session_id": {sessionID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, respBody)
	}

	var result statusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return result.History, nil
}

// postJSON sends a unary JSON POST and returns any history the server
// included in its acknowledgement.
func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]Exchange, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp.StatusCode, respBody)
	}

	var result statusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.History, nil
}

// serverError turns a non-200 body into an error, preferring the server's
// own message when the body parses.
func serverError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return fmt.Errorf("server error [%d]: %s", status, er.Error)
	}
	return fmt.Errorf("server error [%d]: %s", status, strings.TrimSpace(string(body)))
}
