// Package remote submits sessions to a dcsf HTTP collaborator.
package remote

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

	"github.com/verte-zerg/dcsf/internal/model"
)

// Client talks to the /api routes of `dcsf serve`.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}, nil
}

type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// APIError is a non-ok reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// SubmitSession posts a finished session and returns its id.
func (c *Client) SubmitSession(ctx context.Context, rec model.SessionRecord) (int64, error) {
	var res struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/test-sessions", rec, &res); err != nil {
		return 0, fmt.Errorf("failed to submit session: %w", err)
	}
	return res.ID, nil
}

// LoadPriorSessions lists a patient's sessions, newest first.
func (c *Client) LoadPriorSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error) {
	return c.ListSessions(ctx, patientID)
}

// ListSessions lists sessions newest first. An empty patientID lists all.
func (c *Client) ListSessions(ctx context.Context, patientID string) ([]model.SessionSummary, error) {
	var sessions []model.SessionSummary
	path := "/api/test-sessions"
	if patientID != "" {
		path += "?patientId=" + url.QueryEscape(patientID)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return sessions, nil
}

// GetSession loads a full session record.
func (c *Client) GetSession(ctx context.Context, id int64) (model.SessionRecord, error) {
	var rec model.SessionRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/test-sessions/%d", id), nil, &rec); err != nil {
		return model.SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

// ListPatients returns every patient known to the server.
func (c *Client) ListPatients(ctx context.Context) ([]model.Patient, error) {
	var patients []model.Patient
	if err := c.do(ctx, http.MethodGet, "/api/patients", nil, &patients); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.OK || resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
