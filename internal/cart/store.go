// Package cart holds the shopper's line items and mirrors them to storage.
//
// The store is a plain container. It does not know about server stock; callers
// run CheckStock before AddToCart.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
)

// StorageKey is where the serialized line items live.
const StorageKey = "cartItems"

// Store is the cart. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	items  []domain.LineItem
	kv     storage.Store
	logger *slog.Logger
}

// NewStore restores the cart from kv. A missing, unreadable or invalid value
// yields an empty cart; restoring never fails.
func NewStore(ctx context.Context, kv storage.Store, logger *slog.Logger) *Store {
	s := &Store{kv: kv, logger: logger}
	s.items = s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) []domain.LineItem {
	raw, err := s.kv.Get(ctx, StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "cart storage unreadable, starting empty", slog.String("error", err.Error()))
		return nil
	}

	var items []domain.LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.WarnContext(ctx, "stored cart is corrupt, starting empty", slog.String("error", err.Error()))
		return nil
	}

	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			s.logger.WarnContext(ctx, "stored cart holds an invalid item, starting empty",
				slog.Int64("product_id", item.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if _, dup := seen[item.ID]; dup {
			s.logger.WarnContext(ctx, "stored cart holds a duplicate item, starting empty", slog.Int64("product_id", item.ID))
			return nil
		}
		seen[item.ID] = struct{}{}
	}

	s.logger.DebugContext(ctx, "cart restored", slog.Int("items", len(items)))
	return items
}

// AddToCart adds item, or raises the quantity of the entry with the same id by
// item.Quantity. An existing entry keeps its name, price and image.
func (s *Store) AddToCart(ctx context.Context, item domain.LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(item.ID); i >= 0 {
		s.items[i].Quantity += item.Quantity
	} else {
		s.items = append(s.items, item)
	}
	mutationsTotal.WithLabelValues("add").Inc()
	s.persist(ctx)
	return nil
}

// RemoveFromCart drops the entry with id. Unknown ids are ignored.
func (s *Store) RemoveFromCart(ctx context.Context, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.items = slices.Delete(s.items, i, i+1)
	mutationsTotal.WithLabelValues("remove").Inc()
	s.persist(ctx)
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	mutationsTotal.WithLabelValues("clear").Inc()
	s.persist(ctx)
}

// Subtotal is the sum of price times quantity, rounded to cents.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtotal(s.items)
}

// CalculateTotal renders the subtotal with exactly two decimals, e.g. "20.00".
func (s *Store) CalculateTotal() string {
	return s.Subtotal().StringFixed(2)
}

// Items returns a copy of the line items in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

// QuantityOf returns how many units of product id are in the cart.
func (s *Store) QuantityOf(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

// Len is the number of distinct products in the cart.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) indexOf(id int64) int {
	return slices.IndexFunc(s.items, func(li domain.LineItem) bool { return li.ID == id })
}

// persist writes the full cart. Caller holds s.mu. The write ignores ctx
// cancellation so memory and storage agree once a mutation has been applied.
// Failures leave the cart working in memory only.
func (s *Store) persist(ctx context.Context) {
	items := s.items
	if items == nil {
		items = []domain.LineItem{}
	}
	raw, err := json.Marshal(items)
	if err == nil {
		err = s.kv.Set(context.WithoutCancel(ctx), StorageKey, raw)
	}
	if err != nil {
		persistFailuresTotal.Inc()
		s.logger.WarnContext(ctx, "cart not persisted, continuing in memory",
			slog.Int("items", len(items)),
			slog.String("error", err.Error()),
		)
	}
}

func subtotal(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal())
	}
	return total.Round(2)
}
