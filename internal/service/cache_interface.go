package service

import (
	"context"

	"github.com/cypherlabdev/win-probability-service/internal/models"
)

// Cache is an interface that abstracts the tiered prediction cache
// This allows for easier testing and mocking
type Cache interface {
	Put(ctx context.Context, entity string, kind models.DataKind, window string, value interface{}) error
	Get(ctx context.Context, entity string, kind models.DataKind, window string, dest interface{}) (bool, error)
	Invalidate(ctx context.Context, entity string, kind models.DataKind, window string) error
	Ping(ctx context.Context) error
	Close() error
}
