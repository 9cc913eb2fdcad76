package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrServiceUnavailable covers timeouts, refused connections and 5xx
	// answers from a remote service.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrRejected is returned when the remote service refuses a write.
	ErrRejected = errors.New("request rejected")
)

// errNotFound never leaves the package; lookups turn it into a nil result.
var errNotFound = errors.New("not found")

type statusError struct {
	service string
	method  string
	url     string
	code    int
	body    string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%s: %s %s returned %d", e.service, e.method, e.url, e.code)
	}
	return fmt.Sprintf("%s: %s %s returned %d: %s", e.service, e.method, e.url, e.code, e.body)
}

func (e *statusError) Unwrap() error {
	switch {
	case e.code == http.StatusNotFound:
		return errNotFound
	case e.code >= 500:
		return ErrServiceUnavailable
	default:
		return ErrRejected
	}
}

// doJSON sends body (if any) as JSON and decodes a 2xx answer into dest
// (if any). Transport failures wrap ErrServiceUnavailable.
func doJSON(ctx context.Context, client *http.Client, service, method, url string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", service, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", service, ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{
			service: service,
			method:  method,
			url:     url,
			code:    resp.StatusCode,
			body:    string(bytes.TrimSpace(snippet)),
		}
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s: %w: undecodable response: %v", service, ErrServiceUnavailable, err)
	}
	return nil
}

// ping issues a GET and only looks at the status code.
func ping(ctx context.Context, client *http.Client, service, url string) error {
	return doJSON(ctx, client, service, http.MethodGet, url, nil, nil)
}
