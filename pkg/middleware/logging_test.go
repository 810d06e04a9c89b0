package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestLoggingTransport_PropagatesContextRequestID(t *testing.T) {
	seen := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	client := &http.Client{Transport: NewLoggingTransport(nil, logger)}

	ctx := WithRequestID(context.Background(), "req-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/budgets?month=3", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-42", <-seen)
	assert.Empty(t, req.Header.Get(RequestIDHeader), "caller's request must not be mutated")

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "req-42", lines[0]["request_id"])
	assert.Equal(t, "/budgets", lines[0]["path"])
	assert.Equal(t, "month=3", lines[0]["query"])
	assert.EqualValues(t, 404, lines[0]["status"])
}

func TestLoggingTransport_GeneratesRequestID(t *testing.T) {
	var seen string
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header.Get(RequestIDHeader)
		return &http.Response{StatusCode: 200, Body: http.NoBody, Header: http.Header{}}, nil
	})

	transport := NewLoggingTransport(next, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "https://api.test/accounts", nil)
	_, err := transport.RoundTrip(req)
	require.NoError(t, err)

	assert.Len(t, seen, 36, "expected a uuid request id")
}

func TestLoggingTransport_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) { return nil, boom })

	var buf bytes.Buffer
	transport := NewLoggingTransport(next, zerolog.New(&buf))
	req := httptest.NewRequest(http.MethodPost, "https://api.test/goals", nil)

	_, err := transport.RoundTrip(req)
	assert.ErrorIs(t, err, boom)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "connection refused", lines[0]["error"])
}

func TestLoggerFromCtx(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	withID := LoggerFromCtx(WithRequestID(context.Background(), "abc"), base)
	withID.Info().Msg("hello")
	bare := LoggerFromCtx(context.Background(), base)
	bare.Info().Msg("bare")

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "abc", lines[0]["request_id"])
	_, ok := lines[1]["request_id"]
	assert.False(t, ok)
}
