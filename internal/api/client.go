// Package api is the client for the generation REST service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leo-remote/internal/snapshot"
)

const defaultTimeout = 30 * time.Second

// CreateGenerationRequest is the body of POST /generations.
type CreateGenerationRequest struct {
	AppName        string `json:"appName"`
	Prompt         string `json:"prompt"`
	Mode           string `json:"mode"`
	MaxIterations  int    `json:"maxIterations"`
	GenerationType string `json:"generationType"`
	AppID          string `json:"appId,omitempty"`
	GithubURL      string `json:"githubUrl,omitempty"`
	DeploymentURL  string `json:"deploymentUrl,omitempty"`
}

// Generation is a generation record as returned by the service.
type Generation struct {
	ID             string    `json:"id"`
	AppID          string    `json:"appId,omitempty"`
	AppName        string    `json:"appName,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	GenerationType string    `json:"generationType,omitempty"`
	Status         string    `json:"status,omitempty"`
	MaxIterations  int       `json:"maxIterations,omitempty"`
	GithubURL      string    `json:"githubUrl,omitempty"`
	DownloadURL    string    `json:"downloadUrl,omitempty"`
	DeploymentURL  string    `json:"deploymentUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

type rollbackRequest struct {
	SnapshotID string `json:"snapshotId"`
}

// StatusError is a response with an unexpected status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Client talks to the REST service at a base URL.
type Client struct {
	baseURL string
	http    *http.Client
	header  http.Header
}

// New creates a client. A nil httpClient gets a default with a timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		header:  make(http.Header),
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// CreateGeneration registers a generation. The returned ID correlates the
// WebSocket start command.
func (c *Client) CreateGeneration(ctx context.Context, req CreateGenerationRequest) (Generation, error) {
	var gen Generation
	if err := c.do(ctx, http.MethodPost, "/generations", req, http.StatusCreated, &gen); err != nil {
		return Generation{}, fmt.Errorf("create generation: %w", err)
	}
	if gen.ID == "" {
		return Generation{}, fmt.Errorf("create generation: response has no id")
	}
	return gen, nil
}

func (c *Client) ListGenerations(ctx context.Context) ([]Generation, error) {
	var gens []Generation
	if err := c.do(ctx, http.MethodGet, "/generations", nil, http.StatusOK, &gens); err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return gens, nil
}

// ListIterations returns the snapshots of generation id in server order.
func (c *Client) ListIterations(ctx context.Context, id string) ([]snapshot.Snapshot, error) {
	var snaps []snapshot.Snapshot
	path := "/generations/" + url.PathEscape(id) + "/iterations"
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &snaps); err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	return snaps, nil
}

func (c *Client) Rollback(ctx context.Context, id, snapshotID string) error {
	path := "/generations/" + url.PathEscape(id) + "/iterations/rollback"
	if err := c.do(ctx, http.MethodPost, path, rollbackRequest{SnapshotID: snapshotID}, http.StatusOK, nil); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// DeleteSnapshot deletes a snapshot. The service refuses snapshots that are
// not manual.
func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	path := "/snapshots/" + url.PathEscape(snapshotID)
	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, nil); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeStatusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	e := &StatusError{Code: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = strings.TrimSpace(string(data))
	}
	return e
}
