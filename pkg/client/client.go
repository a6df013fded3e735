// Package client talks to the OdooNova status API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vaheed/odoonova/pkg/types"
)

// Error is returned for non 2xx responses.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Client struct {
	base  string
	http  *http.Client
	token string
}

func New(base, token string) *Client {
	return &Client{base: trim(base), http: &http.Client{Timeout: 30 * time.Second}, token: token}
}

func trim(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

func (c *Client) ListClusters(ctx context.Context, phase string) ([]types.ClusterSummary, error) {
	q := url.Values{}
	if phase != "" {
		q.Set("phase", phase)
	}
	var v []types.ClusterSummary
	return v, c.get(ctx, "/api/v1/clusters", q, &v)
}

func (c *Client) GetCluster(ctx context.Context, name string) (types.ClusterDetail, error) {
	var v types.ClusterDetail
	return v, c.get(ctx, "/api/v1/clusters/"+url.PathEscape(name), nil, &v)
}

// History returns phase transitions newest first.
func (c *Client) History(ctx context.Context, name string, limit int) ([]types.PhaseTransition, error) {
	var v []types.PhaseTransition
	return v, c.get(ctx, "/api/v1/clusters/"+url.PathEscape(name)+"/history", limitQuery(limit), &v)
}

// Events returns recent lifecycle events oldest first.
func (c *Client) Events(ctx context.Context, name string, limit int) ([]types.LifecycleEvent, error) {
	var v []types.LifecycleEvent
	return v, c.get(ctx, "/api/v1/clusters/"+url.PathEscape(name)+"/events", limitQuery(limit), &v)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	return v.Version, c.get(ctx, "/api/v1/version", nil, &v)
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e types.Error
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &Error{Status: resp.StatusCode, Code: e.Code, Message: e.Message}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
