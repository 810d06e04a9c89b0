// This file implements structured logging for outbound requests with:
//   - Request/response logging with timing
//   - Correlation ID propagation (X-Request-ID header)
//   - Context-based request ID storage
//   - zerolog structured output
//
// Design Notes:
//   - The transport wraps any http.RoundTripper, so it composes with a
//     caller-supplied http.Client
//   - Request IDs stored in context are reused; otherwise one is generated
//   - Query strings are logged, Authorization headers never are
//
// Trade-offs:
//   - Log level: Debug for success, Warn for 4xx, Error for 5xx and
//     transport failures
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "request-id"

	// RequestIDHeader carries the correlation ID to the server.
	RequestIDHeader = "X-Request-ID"
)

// LoggingTransport is an http.RoundTripper that logs every exchange.
//
// Example usage:
//
//	client := &http.Client{
//	    Transport: NewLoggingTransport(http.DefaultTransport, logger),
//	}
type LoggingTransport struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

// NewLoggingTransport wraps next. A nil next uses http.DefaultTransport.
func NewLoggingTransport(next http.RoundTripper, logger zerolog.Logger) *LoggingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &LoggingTransport{
		next:   next,
		logger: logger.With().Str("component", "transport").Logger(),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = RequestIDFromCtx(req.Context())
	}
	if requestID == "" {
		requestID = generateRequestID()
	}
	if req.Header.Get(RequestIDHeader) == "" {
		// RoundTrippers must not mutate the caller's request
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		// Cancellation is the caller's choice, not a transport fault
		level := zerolog.ErrorLevel
		if req.Context().Err() != nil {
			level = zerolog.DebugLevel
		}
		t.logger.WithLevel(level).
			Err(err).
			Str("request_id", requestID).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Dur("duration", duration).
			Msg("request failed")
		return nil, err
	}

	var event *zerolog.Event
	switch {
	case resp.StatusCode >= 500:
		event = t.logger.Error()
	case resp.StatusCode >= 400:
		event = t.logger.Warn()
	default:
		event = t.logger.Debug()
	}
	event.
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("query", req.URL.RawQuery).
		Int("status", resp.StatusCode).
		Int64("bytes", resp.ContentLength).
		Dur("duration", duration).
		Msg("request completed")

	return resp, nil
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromCtx retrieves the request ID from the context.
// Returns empty string if not found.
func RequestIDFromCtx(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// NewRequestID returns a fresh uuid v4 correlation ID.
func NewRequestID() string {
	return generateRequestID()
}

func generateRequestID() string {
	return uuid.New().String()
}

// LoggerFromCtx returns logger annotated with the context's request ID, if any.
func LoggerFromCtx(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if id := RequestIDFromCtx(ctx); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}
