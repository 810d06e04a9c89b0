package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event versioning strategy:
// - Version 1: Initial schema
// - Future versions: Add fields, never remove (backward compatible)
// - Consumers should check Version and handle appropriately

const (
	// EventVersion1 is the current event schema version
	EventVersion1 = 1
)

// Event is implemented by every payload carried on a Topic.
type Event interface {
	Validate() error
}

// InvalidationEvent records a successful mutation and the cache prefixes it
// cleared. Published to TopicCacheInvalidate.
//
// Design notes:
//   - Prefixes may be empty when the mutated path maps to no resource;
//     the event is still published so subscribers see every mutation
//   - RequestID enables correlation with the transport log line
type InvalidationEvent struct {
	// Version of the event schema (for backward compatibility)
	Version int `json:"version"`

	// Method and URL of the mutating request
	Method string `json:"method"`
	URL    string `json:"url"`

	// Prefixes cleared from the cache
	Prefixes []string `json:"prefixes,omitempty"`

	// Removed is the number of entries dropped from memory
	Removed int `json:"removed"`

	// TriggeredAt is the time the invalidation ran
	TriggeredAt time.Time `json:"triggered_at"`

	// RequestID for correlation
	RequestID string `json:"request_id"`
}

// Validate checks if the InvalidationEvent is well-formed.
func (e *InvalidationEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.Method == "" || e.URL == "" {
		return errors.New("method and url are required")
	}

	if e.Removed < 0 {
		return errors.New("removed cannot be negative")
	}

	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}

	if e.RequestID == "" {
		return errors.New("request_id is required for tracing")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *InvalidationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// InvalidationEventFromJSON deserializes an InvalidationEvent from JSON.
func InvalidationEventFromJSON(data []byte) (*InvalidationEvent, error) {
	var e InvalidationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal InvalidationEvent: %w", err)
	}
	return &e, nil
}

// Logout reasons.
const (
	LogoutRefreshFailed = "refresh_failed"
	LogoutNoToken       = "no_token"
	LogoutManual        = "manual"
)

// LogoutEvent is published to TopicSessionLogout when the session ends.
type LogoutEvent struct {
	Version int `json:"version"`

	// Reason is one of the Logout* constants
	Reason string `json:"reason"`

	// Error message from the failed refresh, if any
	Error string `json:"error,omitempty"`

	TriggeredAt time.Time `json:"triggered_at"`
}

// Validate checks if the LogoutEvent is well-formed.
func (e *LogoutEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	switch e.Reason {
	case LogoutRefreshFailed, LogoutNoToken, LogoutManual:
	default:
		return fmt.Errorf("invalid reason: %s", e.Reason)
	}

	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *LogoutEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// UpgradePromptEvent is published to TopicPremiumUpgrade whenever a premium
// gate gives up and the user is shown the upgrade prompt.
type UpgradePromptEvent struct {
	Version int `json:"version"`

	// RequestKey of the blocked request
	RequestKey string `json:"request_key"`

	// Message shown to the user
	Message string `json:"message"`

	TriggeredAt time.Time `json:"triggered_at"`

	RequestID string `json:"request_id"`
}

// Validate checks if the UpgradePromptEvent is well-formed.
func (e *UpgradePromptEvent) Validate() error {
	if e.Version != EventVersion1 {
		return fmt.Errorf("unsupported event version: %d", e.Version)
	}

	if e.RequestKey == "" {
		return errors.New("request_key is required")
	}

	if e.Message == "" {
		return errors.New("message is required")
	}

	if e.TriggeredAt.IsZero() {
		return errors.New("triggered_at cannot be zero")
	}

	return nil
}

// ToJSON serializes the event to JSON.
func (e *UpgradePromptEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
