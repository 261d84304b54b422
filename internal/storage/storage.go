// Package storage is the durable key/value space the cart and the session
// persist into. It plays the role browser local storage plays for a page:
// last writer wins, values are opaque bytes.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/utafrali/storefront/pkg/database"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Store is a flat key/value space.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes every listed key. Absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Expirer is implemented by stores that can drop a key on their own after a
// while.
type Expirer interface {
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SetWithTTL writes value with an expiry when s supports one and as a plain
// Set otherwise. Callers that need the expiry honoured everywhere must check
// it on read as well.
func SetWithTTL(ctx context.Context, s Store, key string, value []byte, ttl time.Duration) error {
	if e, ok := s.(Expirer); ok {
		return e.SetTTL(ctx, key, value, ttl)
	}
	return s.Set(ctx, key, value)
}

// Traced wraps a Store so that every operation gets a client span and slow
// operations are logged.
func Traced(s Store, tracer database.OpTracer) Store {
	return &tracedStore{next: s, tracer: tracer}
}

type tracedStore struct {
	next   Store
	tracer database.OpTracer
}

func (t *tracedStore) Get(ctx context.Context, key string) (b []byte, err error) {
	ctx, end := t.tracer.Trace(ctx, "get", key)
	defer func() {
		if errors.Is(err, ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()
	return t.next.Get(ctx, key)
}

func (t *tracedStore) Set(ctx context.Context, key string, value []byte) (err error) {
	ctx, end := t.tracer.Trace(ctx, "set", key)
	defer func() { end(err) }()
	return t.next.Set(ctx, key, value)
}

func (t *tracedStore) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	ctx, end := t.tracer.Trace(ctx, "set", key)
	defer func() { end(err) }()
	return SetWithTTL(ctx, t.next, key, value, ttl)
}

func (t *tracedStore) Delete(ctx context.Context, keys ...string) (err error) {
	label := ""
	if len(keys) > 0 {
		label = keys[0]
	}
	ctx, end := t.tracer.Trace(ctx, "delete", label)
	defer func() { end(err) }()
	return t.next.Delete(ctx, keys...)
}

func (t *tracedStore) Ping(ctx context.Context) error { return t.next.Ping(ctx) }

func (t *tracedStore) Close() error { return t.next.Close() }
