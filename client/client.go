// Package client talks to a docdelta planning server.
package client

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

	"docdelta/internal/api"
	"docdelta/internal/diff"
	"docdelta/internal/errors"
	"docdelta/internal/pipeline"
	"docdelta/internal/state"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			// Runs wait on generation, so allow far more than a plain query.
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}

func (c *Client) Estimate(ctx context.Context) (*pipeline.Estimate, error) {
	var out pipeline.Estimate
	if err := c.do(ctx, http.MethodGet, "/api/estimate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context) (*pipeline.Status, error) {
	var out pipeline.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Plan asks for a dry-run plan; a non-empty patch selects pull-request mode.
func (c *Client) Plan(ctx context.Context, patch []byte) (*pipeline.PlanReport, error) {
	var out pipeline.PlanReport
	if err := c.do(ctx, http.MethodPost, "/api/plan", api.PlanRequest{Patch: string(patch)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Run(ctx context.Context, patch []byte, dryRun bool) (*pipeline.RunReport, error) {
	var out pipeline.RunReport
	req := api.PlanRequest{Patch: string(patch), DryRun: dryRun}
	if err := c.do(ctx, http.MethodPost, "/api/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) State(ctx context.Context) (*state.DocState, error) {
	var out state.DocState
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context) ([]state.HistoryEntry, error) {
	var out []state.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) StateAt(ctx context.Context, commit string) (*state.DocState, error) {
	var out state.DocState
	if err := c.do(ctx, http.MethodGet, "/api/history/"+url.PathEscape(commit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Diff compares the archived state of from with to, or with the current
// state when to is empty.
func (c *Client) Diff(ctx context.Context, from, to string) (*diff.StateDiff, error) {
	q := url.Values{"from": {from}}
	if to != "" {
		q.Set("to", to)
	}
	var out diff.StateDiff
	if err := c.do(ctx, http.MethodGet, "/api/diff?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends body as JSON and decodes a 200 response into out. Error bodies
// come back as *errors.Error so callers can use errors.Is on the type.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errors.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Type == "" {
			return fmt.Errorf("unexpected status: %s", resp.Status)
		}
		return &apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
