package syncache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
)

// Remote talks to one collection of the HTTP API.
type Remote[T models.Record[T]] struct {
	client   *http.Client
	url      string
	envelope string
}

// NewRemote creates a remote tier for baseURL/path. Mutation responses carry
// the record under envelope, e.g. {"success":true,"product":{...}}.
// Timeouts come from the request context, not the client.
func NewRemote[T models.Record[T]](client *http.Client, baseURL, path, envelope string) *Remote[T] {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote[T]{
		client:   client,
		url:      strings.TrimRight(baseURL, "/") + "/" + strings.Trim(path, "/"),
		envelope: envelope,
	}
}

// URL returns the collection endpoint.
func (r *Remote[T]) URL() string { return r.url }

func (r *Remote[T]) Load(ctx context.Context) ([]T, error) {
	data, err := r.do(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.url, errdefs.ErrUnconfirmed)
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

func (r *Remote[T]) Create(ctx context.Context, record T) (T, error) {
	return r.send(ctx, http.MethodPost, r.url, record)
}

func (r *Remote[T]) Update(ctx context.Context, record T) (T, error) {
	return r.send(ctx, http.MethodPut, r.itemURL(record.RecordID()), record)
}

func (r *Remote[T]) Delete(ctx context.Context, id int) error {
	data, err := r.do(ctx, http.MethodDelete, r.itemURL(id), nil)
	if err != nil {
		return err
	}
	_, err = confirm(data)
	return err
}

func (r *Remote[T]) itemURL(id int) string {
	return r.url + "/" + strconv.Itoa(id)
}

func (r *Remote[T]) send(ctx context.Context, method, url string, record T) (T, error) {
	var zero T
	body, err := json.Marshal(record)
	if err != nil {
		return zero, err
	}
	data, err := r.do(ctx, method, url, body)
	if err != nil {
		return zero, err
	}
	env, err := confirm(data)
	if err != nil {
		return zero, err
	}
	raw, ok := env[r.envelope]
	if !ok {
		return zero, fmt.Errorf("response without %q: %w", r.envelope, errdefs.ErrUnconfirmed)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil || out.RecordID() == 0 {
		return zero, fmt.Errorf("invalid %q in response: %w", r.envelope, errdefs.ErrUnconfirmed)
	}
	return out, nil
}

// confirm requires the explicit success marker in a 2xx body.
func confirm(data []byte) (map[string]json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("undecodable response: %w", errdefs.ErrUnconfirmed)
	}
	var success bool
	if raw, ok := env["success"]; !ok || json.Unmarshal(raw, &success) != nil || !success {
		return nil, fmt.Errorf("response without success marker: %w", errdefs.ErrUnconfirmed)
	}
	return env, nil
}

// do performs one request. Transport failures and 5xx are transient; 404 is
// ErrNotFound and every other 4xx is a validation rejection.
func (r *Remote[T]) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, url, errdefs.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w: %w", method, url, errdefs.ErrTransientNetwork, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s %s: status %d: %w", method, url, resp.StatusCode, errdefs.ErrTransientNetwork)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, url, errdefs.ErrNotFound)
	case resp.StatusCode >= 400:
		return nil, &errdefs.ValidationError{Reason: errorMessage(data, resp.Status)}
	}
	return data, nil
}

func errorMessage(data []byte, fallback string) string {
	var e models.ErrorResponse
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return fallback
}
