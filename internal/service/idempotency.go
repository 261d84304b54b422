package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/storage"
)

// confirmationStore remembers checkout confirmations by idempotency key so a
// resubmitted checkout returns the first confirmation.
type confirmationStore interface {
	get(ctx context.Context, key string, now time.Time) (Confirmation, bool)
	put(ctx context.Context, key string, conf Confirmation, now time.Time)
}

// confirmationCache keeps confirmations in process memory. Entries expire
// after ttl and are dropped lazily.
type confirmationCache struct {
	mu      sync.Mutex
	entries map[string]cachedConfirmation
	ttl     time.Duration
}

type cachedConfirmation struct {
	Confirmation Confirmation `json:"confirmation"`
	Expires      time.Time    `json:"expires_at"`
}

func newConfirmationCache(ttl time.Duration) *confirmationCache {
	return &confirmationCache{entries: make(map[string]cachedConfirmation), ttl: ttl}
}

func (c *confirmationCache) get(_ context.Context, key string, now time.Time) (Confirmation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Confirmation{}, false
	}
	if now.After(e.Expires) {
		delete(c.entries, key)
		return Confirmation{}, false
	}
	return e.Confirmation, true
}

func (c *confirmationCache) put(_ context.Context, key string, conf Confirmation, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.After(e.Expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cachedConfirmation{Confirmation: conf, Expires: now.Add(c.ttl)}
}

// confirmationKeyPrefix namespaces replay entries in the shared key space.
const confirmationKeyPrefix = "checkout:"

// storedConfirmations keeps confirmations in durable storage so replays
// survive a restart. The expiry travels with the value; stores that support
// TTLs also drop the key themselves.
type storedConfirmations struct {
	kv     storage.Store
	ttl    time.Duration
	logger *slog.Logger
}

func newStoredConfirmations(kv storage.Store, ttl time.Duration, logger *slog.Logger) *storedConfirmations {
	return &storedConfirmations{kv: kv, ttl: ttl, logger: logger}
}

func (s *storedConfirmations) get(ctx context.Context, key string, now time.Time) (Confirmation, bool) {
	raw, err := s.kv.Get(ctx, confirmationKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WarnContext(ctx, "checkout replay lookup failed, placing a new order",
				slog.String("error", err.Error()),
			)
		}
		return Confirmation{}, false
	}

	var e cachedConfirmation
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.WarnContext(ctx, "dropping unreadable checkout replay entry", slog.String("error", err.Error()))
		_ = s.kv.Delete(context.WithoutCancel(ctx), confirmationKeyPrefix+key)
		return Confirmation{}, false
	}
	if now.After(e.Expires) {
		_ = s.kv.Delete(context.WithoutCancel(ctx), confirmationKeyPrefix+key)
		return Confirmation{}, false
	}
	return e.Confirmation, true
}

func (s *storedConfirmations) put(ctx context.Context, key string, conf Confirmation, now time.Time) {
	raw, err := json.Marshal(cachedConfirmation{Confirmation: conf, Expires: now.Add(s.ttl)})
	if err == nil {
		err = storage.SetWithTTL(context.WithoutCancel(ctx), s.kv, confirmationKeyPrefix+key, raw, s.ttl)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "checkout replay not stored",
			slog.String("reference", conf.Reference),
			slog.String("error", err.Error()),
		)
	}
}
