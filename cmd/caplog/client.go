package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/caplog/internal/api"
	"github.com/kalambet/caplog/internal/config"
	"github.com/kalambet/caplog/internal/storage"
	"github.com/kalambet/caplog/internal/textproc"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &apiClient{
		baseURL:    serverURL(cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// apiError is a non-2xx reply, decoded from the server's error envelope
// when it has one.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Type, e.Message)
}

func readAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	e := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		e.Type, e.Message = envelope.Error.Type, envelope.Error.Message
	}
	return e
}

// call sends in as JSON (when non-nil) and decodes the reply into out
// (when non-nil).
func (c *apiClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server not reachable, is caplog serve running? (%w)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *apiClient) listSessions(ctx context.Context, limit int) ([]storage.Session, error) {
	var sessions []storage.Session
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/sessions?limit=%d", limit), nil, &sessions)
	return sessions, err
}

func (c *apiClient) getSession(ctx context.Context, sessionID string) (api.SessionResponse, error) {
	var sess api.SessionResponse
	err := c.call(ctx, http.MethodGet, "/sessions/"+sessionID, nil, &sess)
	return sess, err
}

func (c *apiClient) createSession(ctx context.Context, title string) (api.SessionResponse, error) {
	var sess api.SessionResponse
	err := c.call(ctx, http.MethodPost, "/sessions", api.CreateSessionRequest{Title: title}, &sess)
	return sess, err
}

func (c *apiClient) submit(ctx context.Context, sessionID string, results []textproc.Result) error {
	return c.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/results", results, nil)
}

func (c *apiClient) endSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/end", nil, nil)
}

// ensureRecording attaches a recorder to an existing active session unless
// one is already running.
func (c *apiClient) ensureRecording(ctx context.Context, sessionID string) error {
	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch {
	case sess.Recording:
		return nil
	case sess.Status != storage.StatusActive:
		return fmt.Errorf("session %s is %s", sessionID, sess.Status)
	}
	return c.call(ctx, http.MethodPost, "/sessions/"+sessionID+"/attach", nil, nil)
}
