package services

import (
	"context"
	"time"
)

// StorageProvider is the object-store abstraction for uploaded source files.
// Keys are opaque to the provider; callers build them.
type StorageProvider interface {
	// Store writes the object and returns its public URL when a public base
	// is configured, otherwise "<bucket>/<key>".
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Retrieve(ctx context.Context, key string) ([]byte, error)
	// Delete reports whether the object was removed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	// GetSignedURL returns a time-limited GET URL for the object.
	GetSignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error)
}

// CacheProvider stores JSON-encoded values. Reads and writes never fail the
// caller: a broken cache behaves as a miss on Get and a no-op on Set.
type CacheProvider interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// EmailProvider delivers transactional mail (verification and reset codes).
type EmailProvider interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TaskDispatcher runs named background tasks detached from the request
// lifecycle. Implementations recover panics and bound task runtime.
type TaskDispatcher interface {
	Dispatch(name string, timeout time.Duration, fn func(ctx context.Context))
	// Shutdown waits for in-flight tasks up to the given grace period.
	Shutdown(grace time.Duration)
}
