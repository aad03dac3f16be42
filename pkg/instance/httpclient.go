package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient is a thin JSON-over-HTTP implementation of API, for talking
// to an Instance API service deployed separately from Treadmill (spec.md
// section 1 keeps that service itself out of scope; this is only the
// client adapter the app-monitor controller drives). Mirrors the
// constructor shape of the teacher's pkg/client.Client without pulling in
// gRPC, since no Instance API wire protocol is defined here.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client against baseURL (e.g.
// "http://instance-api.internal:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("instance api: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) List(ctx context.Context, proid, app string) ([]Instance, error) {
	var out []Instance
	path := fmt.Sprintf("/instances?proid=%s&app=%s", url.QueryEscape(proid), url.QueryEscape(app))
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPClient) Get(ctx context.Context, id string) (Instance, error) {
	var out Instance
	err := c.do(ctx, http.MethodGet, "/instances/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *HTTPClient) Create(ctx context.Context, spec Spec) ([]Instance, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []Instance
	err := c.do(ctx, http.MethodPost, "/instances", spec, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, id string, spec Spec) (Instance, error) {
	if err := spec.Validate(); err != nil {
		return Instance{}, err
	}
	var out Instance
	err := c.do(ctx, http.MethodPut, "/instances/"+url.PathEscape(id), spec, &out)
	return out, err
}

func (c *HTTPClient) BulkUpdate(ctx context.Context, ids []string, spec Spec) ([]Instance, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []Instance
	body := struct {
		IDs  []string `json:"ids"`
		Spec Spec     `json:"spec"`
	}{ids, spec}
	err := c.do(ctx, http.MethodPut, "/instances/bulk", body, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, id string, deletedBy string) error {
	path := fmt.Sprintf("/instances/%s?deleted_by=%s", url.PathEscape(id), url.QueryEscape(deletedBy))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) BulkDelete(ctx context.Context, ids []string, deletedBy string) error {
	body := struct {
		IDs       []string `json:"ids"`
		DeletedBy string   `json:"deleted_by"`
	}{ids, deletedBy}
	return c.do(ctx, http.MethodDelete, "/instances/bulk", body, nil)
}

var _ API = (*HTTPClient)(nil)
