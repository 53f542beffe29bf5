package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"acore-backup/internal/errors"
	"acore-backup/internal/restore"
)

// Client talks to a running admin API. Restore operations live in the
// serving process, so the CLI inspects them through this client.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL, e.g. http://127.0.0.1:8080
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewInputError(fmt.Sprintf("invalid server URL %q", baseURL))
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// ListRestores returns tracked restore operations, newest first
func (c *Client) ListRestores(ctx context.Context) ([]restore.Operation, error) {
	var ops []restore.Operation
	err := c.do(ctx, http.MethodGet, "/api/backups/restore-operations", &ops)
	return ops, err
}

// GetRestore returns one restore operation
func (c *Client) GetRestore(ctx context.Context, id string) (restore.Operation, error) {
	var op restore.Operation
	err := c.do(ctx, http.MethodGet, "/api/backups/restore-operations/"+url.PathEscape(id), &op)
	return op, err
}

// CancelRestore requests cancellation of a running restore
func (c *Client) CancelRestore(ctx context.Context, id string) error {
	var msg messageResponse
	return c.do(ctx, http.MethodPost, "/api/backups/restore-operations/"+url.PathEscape(id)+"/cancel", &msg)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewTransientIOError(fmt.Sprintf("admin API unreachable at %s", c.baseURL), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.NewTransientIOError("failed to read admin API response", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return errors.NewAppError(errors.ErrorType(apiErr.Error), apiErr.Message, nil)
		}
		return errors.NewAppError(errors.ErrorTypeUnknown, fmt.Sprintf("admin API returned %s", resp.Status), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode admin API response: %w", err)
	}
	return nil
}
