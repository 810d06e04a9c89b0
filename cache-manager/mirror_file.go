package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/budgetly/orchestrator/pkg/models"
	"github.com/budgetly/orchestrator/pkg/utils"
)

// mirrorFileName is the file FileMirror keeps inside its directory.
const mirrorFileName = "responses.msgpack"

// FileMirror persists the cache as a single MessagePack document: a map from
// key to an encoded entry. The file is loaded once and rewritten atomically
// (temp file + rename) after every change. Expired entries are dropped on
// each rewrite.
type FileMirror struct {
	mu      sync.Mutex
	path    string
	enc     utils.Encoding
	clock   clockwork.Clock
	entries map[string][]byte
	loaded  bool
}

// NewFileMirror creates a mirror under dir, creating dir if needed.
func NewFileMirror(dir string, clock clockwork.Clock) (*FileMirror, error) {
	if dir == "" {
		return nil, errors.New("mirror directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileMirror{
		path:  filepath.Join(dir, mirrorFileName),
		enc:   utils.EncodingMsgPack,
		clock: clock,
	}, nil
}

// Path returns the backing file path.
func (m *FileMirror) Path() string { return m.path }

// Get implements Mirror.
func (m *FileMirror) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadUnsafe(); err != nil {
		return nil, err
	}
	data, ok := m.entries[key]
	if !ok {
		return nil, ErrMirrorMiss
	}
	return utils.UnmarshalEntry(data, m.enc)
}

// Set implements Mirror.
func (m *FileMirror) Set(_ context.Context, entry *models.CacheEntry) error {
	data, err := utils.MarshalEntry(entry, m.enc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadUnsafe(); err != nil {
		return err
	}
	m.entries[entry.Key] = data
	return m.saveUnsafe()
}

// DeletePrefix implements Mirror.
func (m *FileMirror) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadUnsafe(); err != nil {
		return 0, err
	}

	count := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return count, m.saveUnsafe()
}

// loadUnsafe reads the file on first use. A missing file is an empty mirror;
// a corrupt one is discarded.
func (m *FileMirror) loadUnsafe() error {
	if m.loaded {
		return nil
	}

	m.entries = make(map[string][]byte)
	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read mirror: %w", err)
	default:
		if err := msgpack.Unmarshal(data, &m.entries); err != nil {
			m.entries = make(map[string][]byte)
		}
	}

	m.loaded = true
	return nil
}

// saveUnsafe prunes expired entries and rewrites the file.
func (m *FileMirror) saveUnsafe() error {
	now := m.clock.Now()
	for key, data := range m.entries {
		entry, err := utils.UnmarshalEntry(data, m.enc)
		if err != nil || entry.IsExpired(now) {
			delete(m.entries, key)
		}
	}

	data, err := msgpack.Marshal(m.entries)
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace mirror: %w", err)
	}
	return nil
}
