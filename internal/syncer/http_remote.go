package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// problem mirrors the RFC 7807 body the server sends on errors.
type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// HTTPRemote talks to the sync server over JSON/HTTP.
type HTTPRemote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRemote creates a Remote for the server at baseURL. apiKey is sent
// as a bearer token when non-empty. A nil client gets a 30s timeout.
func NewHTTPRemote(baseURL, apiKey string, client *http.Client) *HTTPRemote {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// Ping checks the server is reachable.
func (r *HTTPRemote) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", http.MethodGet, "/ping", nil, nil)
}

// Push submits a batch of changes.
func (r *HTTPRemote) Push(ctx context.Context, req hsync.PushRequest) (*hsync.PushResponse, error) {
	var resp hsync.PushResponse
	if err := r.do(ctx, "push", http.MethodPost, "/sync/push", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches changes recorded after req.Since by other devices.
func (r *HTTPRemote) Pull(ctx context.Context, req hsync.PullRequest) (*hsync.PullResponse, error) {
	q := url.Values{}
	q.Set("deviceId", req.DeviceID)
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var resp hsync.PullResponse
	if err := r.do(ctx, "pull", http.MethodGet, "/sync/pull?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends an authenticated JSON request and decodes a JSON response into
// out. Transport failures become ConnectivityError and non-2xx statuses
// become ServerRejectedError.
func (r *HTTPRemote) do(ctx context.Context, op, method, path string, body, out any) error {
	if r.baseURL == "" {
		return &ConnectivityError{Op: op, Err: fmt.Errorf("server URL not configured")}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return &ConnectivityError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejected(op, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func rejected(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	re := &ServerRejectedError{Op: op, StatusCode: resp.StatusCode}
	var p problem
	if json.Unmarshal(data, &p) == nil && (p.Title != "" || p.Detail != "") {
		re.Title = p.Title
		re.Detail = p.Detail
		return re
	}
	re.Title = http.StatusText(resp.StatusCode)
	re.Detail = strings.TrimSpace(string(data))
	return re
}
