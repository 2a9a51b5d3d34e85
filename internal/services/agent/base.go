package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	xhttp "CrashPilot/pkg/http"
)

// Base is the shared JSON client of the browser-automation and inference
// agents.
type Base struct {
	baseURL string
	client  *xhttp.Client
}

// NewBase builds a client bound to baseURL.
func NewBase(baseURL string, timeout time.Duration, opts ...xhttp.ClientOption) *Base {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &Base{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(opts...),
	}
}

func (b *Base) BaseURL() string { return b.baseURL }

// GetJSON fetches path and decodes the JSON body into dest.
func (b *Base) GetJSON(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("agent client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         b.baseURL + path,
		QueryParams: query,
	}, dest)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return nil
}

// PostJSON posts payload to path and decodes the JSON answer into dest.
func (b *Base) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("agent client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with a linear backoff.
func (b *Base) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// IsUnauthorized reports whether err carries a 401/403 agent answer.
func IsUnauthorized(err error) bool {
	var se *xhttp.StatusError
	return errors.As(err, &se) && se.IsUnauthorized()
}
