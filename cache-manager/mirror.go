package cachemanager

import (
	"context"
	"errors"

	"github.com/budgetly/orchestrator/pkg/models"
)

// ErrMirrorMiss is returned by Mirror.Get when the key is not stored.
var ErrMirrorMiss = errors.New("mirror miss")

// Mirror is the best-effort durable copy of the response cache. Entries keep
// their original ExpiresAt, so a reload never extends a lifetime.
//
// Implementations must be safe for concurrent use. Every error is treated as
// a degradation by the cache service, never as a request failure.
type Mirror interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, entry *models.CacheEntry) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// NopMirror stores nothing.
type NopMirror struct{}

// Get implements Mirror.
func (NopMirror) Get(context.Context, string) (*models.CacheEntry, error) { return nil, ErrMirrorMiss }

// Set implements Mirror.
func (NopMirror) Set(context.Context, *models.CacheEntry) error { return nil }

// DeletePrefix implements Mirror.
func (NopMirror) DeletePrefix(context.Context, string) (int, error) { return 0, nil }
