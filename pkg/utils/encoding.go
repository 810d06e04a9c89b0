// Package utils provides serialization utilities for cache entries and events.
//
// This file implements marshal/unmarshal helpers with pluggable encoding.
// JSON is the portable, human-readable format; MessagePack is the compact
// binary format used by the durable cache mirrors.
//
// Design Notes:
//   - Only CacheEntry.Raw travels; Value is rebuilt with DecodeRaw on load
//   - Every encoding error names the entry key
//
// Trade-offs:
//   - JSON: Human-readable, slower, larger
//   - MsgPack: Binary, faster, smaller, not greppable in a mirror file
package utils

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/budgetly/orchestrator/pkg/models"
)

// Encoding represents the serialization format.
type Encoding int

const (
	// EncodingJSON uses JSON encoding.
	EncodingJSON Encoding = iota
	// EncodingMsgPack uses MessagePack encoding.
	EncodingMsgPack
)

// DefaultEncoding is the format used by the mirrors.
var DefaultEncoding = EncodingMsgPack

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingMsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a name ("json", "msgpack") to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "json":
		return EncodingJSON, nil
	case "msgpack", "":
		return EncodingMsgPack, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", name)
	}
}

// MarshalEntry serializes a cache entry with the given encoding.
func MarshalEntry(e *models.CacheEntry, enc Encoding) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil entry")
	}

	data, err := marshal(e, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry %s: %w", e.Key, err)
	}
	return data, nil
}

// UnmarshalEntry deserializes a cache entry and restores its decoded Value.
func UnmarshalEntry(data []byte, enc Encoding) (*models.CacheEntry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var entry models.CacheEntry
	if err := unmarshal(data, &entry, enc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	if err := entry.DecodeRaw(); err != nil {
		return nil, err
	}

	return &entry, nil
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(event interface{}) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("cannot marshal nil event")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return data, nil
}

// UnmarshalEvent deserializes a JSON event into the provided pointer.
func UnmarshalEvent(data []byte, event interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}

	if event == nil {
		return fmt.Errorf("event pointer cannot be nil")
	}

	if err := json.Unmarshal(data, event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return nil
}

func marshal(v interface{}, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingJSON:
		return json.Marshal(v)
	case EncodingMsgPack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
}

func unmarshal(data []byte, v interface{}, enc Encoding) error {
	switch enc {
	case EncodingJSON:
		return json.Unmarshal(data, v)
	case EncodingMsgPack:
		return msgpack.Unmarshal(data, v)
	default:
		return fmt.Errorf("unsupported encoding %s", enc)
	}
}
