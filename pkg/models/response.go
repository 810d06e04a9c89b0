package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HeaderField is one response header line. Order and duplicates are kept.
type HeaderField struct {
	Name  string
	Value string
}

// ResponseSnapshot is a fully buffered, immutable capture of an HTTP response.
//
// A single network response is captured once and handed to every waiter;
// each waiter materializes its own Response view, so reading one view's body
// never affects another's.
type ResponseSnapshot struct {
	status     int
	statusText string
	headers    []HeaderField
	body       []byte
}

// NewResponseSnapshot builds a snapshot from parts. body is copied.
func NewResponseSnapshot(status int, statusText string, headers []HeaderField, body []byte) *ResponseSnapshot {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	h := make([]HeaderField, len(headers))
	copy(h, headers)
	b := make([]byte, len(body))
	copy(b, body)
	return &ResponseSnapshot{status: status, statusText: statusText, headers: h, body: b}
}

// CaptureResponse drains and closes resp.Body and returns the snapshot.
func CaptureResponse(resp *http.Response) (*ResponseSnapshot, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	headers := make([]HeaderField, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, HeaderField{Name: name, Value: v})
		}
	}

	// resp.Status is "200 OK"; keep only the reason phrase
	statusText := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprintf("%d", resp.StatusCode)))

	return &ResponseSnapshot{
		status:     resp.StatusCode,
		statusText: statusText,
		headers:    headers,
		body:       body,
	}, nil
}

// Status returns the HTTP status code.
func (s *ResponseSnapshot) Status() int { return s.status }

// StatusText returns the reason phrase.
func (s *ResponseSnapshot) StatusText() string { return s.statusText }

// OK reports a 2xx status.
func (s *ResponseSnapshot) OK() bool { return s.status >= 200 && s.status < 300 }

// HeaderValue returns the first value for name, case-insensitively.
func (s *ResponseSnapshot) HeaderValue(name string) string {
	for _, h := range s.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// BodyBytes returns a copy of the body.
func (s *ResponseSnapshot) BodyBytes() []byte {
	b := make([]byte, len(s.body))
	copy(b, s.body)
	return b
}

// View materializes an independent Response backed by fresh copies.
func (s *ResponseSnapshot) View() *Response {
	header := make(http.Header, len(s.headers))
	for _, h := range s.headers {
		header.Add(h.Name, h.Value)
	}
	return &Response{
		Status:     s.status,
		StatusText: s.statusText,
		Header:     header,
		body:       s.BodyBytes(),
	}
}

// Response is a caller-owned view of a ResponseSnapshot.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header

	body []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Body returns a fresh reader over the body. Each call starts at offset 0.
func (r *Response) Body() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(r.body))
}

// Bytes returns a copy of the body.
func (r *Response) Bytes() []byte {
	b := make([]byte, len(r.body))
	copy(b, r.body)
	return b
}

// JSON decodes the body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
