package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// CartView is the cart as shown to the shopper.
type CartView struct {
	Items    []domain.LineItem `json:"items"`
	Subtotal string            `json:"subtotal"`
	Units    int               `json:"units"`
}

// Confirmation acknowledges a checkout. No payment is taken.
type Confirmation struct {
	Reference string            `json:"reference"`
	Subtotal  string            `json:"subtotal"`
	Items     []domain.LineItem `json:"items"`
	PlacedAt  time.Time         `json:"placed_at"`
}

// Cart returns the current cart.
func (s *Storefront) Cart() CartView {
	items := s.cart.Items()
	units := 0
	for _, it := range items {
		units += it.Quantity
	}
	if items == nil {
		items = []domain.LineItem{}
	}
	return CartView{Items: items, Subtotal: s.cart.CalculateTotal(), Units: units}
}

// AddProductToCart adds quantity units of a product after checking live stock.
// A refused request leaves the cart untouched.
func (s *Storefront) AddProductToCart(ctx context.Context, productID int64, quantity int) (CartView, error) {
	if quantity <= 0 {
		return CartView{}, apperrors.InvalidInput("quantity must be greater than 0")
	}

	p, err := s.backend.GetProduct(ctx, productID)
	if err != nil {
		return CartView{}, fmt.Errorf("get product %d: %w", productID, err)
	}

	s.addMu.Lock()
	defer s.addMu.Unlock()

	if err := cart.CheckStock(p.Quantity, s.cart.QuantityOf(p.ID), quantity); err != nil {
		return CartView{}, err
	}
	item, err := p.LineItem(quantity)
	if err != nil {
		return CartView{}, err
	}
	if err := s.cart.AddToCart(ctx, item); err != nil {
		return CartView{}, err
	}

	s.logger.InfoContext(ctx, "added to cart",
		slog.Int64("product_id", p.ID),
		slog.Int("quantity", quantity),
	)
	return s.Cart(), nil
}

// RemoveFromCart drops a product from the cart. Unknown ids are ignored.
func (s *Storefront) RemoveFromCart(ctx context.Context, productID int64) CartView {
	s.cart.RemoveFromCart(ctx, productID)
	return s.Cart()
}

// Checkout confirms the current cart. Whether the cart is emptied afterwards
// is configured by Options.CheckoutClearsCart. A non-empty idempotencyKey seen
// before returns the earlier confirmation unchanged.
func (s *Storefront) Checkout(ctx context.Context, idempotencyKey string) (Confirmation, error) {
	s.addMu.Lock()
	defer s.addMu.Unlock()

	if idempotencyKey != "" {
		if conf, ok := s.confirmations.get(ctx, idempotencyKey, s.now()); ok {
			s.logger.InfoContext(ctx, "checkout replayed", slog.String("reference", conf.Reference))
			return conf, nil
		}
	}

	items := s.cart.Items()
	if len(items) == 0 {
		return Confirmation{}, apperrors.InvalidInput("Your cart is empty")
	}

	conf := Confirmation{
		Reference: uuid.NewString(),
		Subtotal:  s.cart.CalculateTotal(),
		Items:     items,
		PlacedAt:  s.now().UTC(),
	}
	if s.opts.CheckoutClearsCart {
		s.cart.Clear(ctx)
	}
	if idempotencyKey != "" {
		s.confirmations.put(ctx, idempotencyKey, conf, s.now())
	}
	checkoutsTotal.Inc()

	s.logger.InfoContext(ctx, "checkout confirmed",
		slog.String("reference", conf.Reference),
		slog.String("subtotal", conf.Subtotal),
		slog.Int("lines", len(items)),
	)
	return conf, nil
}
