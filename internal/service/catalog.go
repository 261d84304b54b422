package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/slug"
)

// ProductView is a catalog card plus how many units can still be added.
type ProductView struct {
	domain.Product
	Slug      string `json:"slug"`
	Available int    `json:"available"`
	InCart    int    `json:"in_cart"`
}

// ListProducts returns the catalog annotated with available stock.
func (s *Storefront) ListProducts(ctx context.Context) ([]ProductView, error) {
	products, err := s.backend.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	views := make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, s.view(p))
	}
	return views, nil
}

// GetProduct returns one card annotated with available stock.
func (s *Storefront) GetProduct(ctx context.Context, id int64) (ProductView, error) {
	p, err := s.backend.GetProduct(ctx, id)
	if err != nil {
		return ProductView{}, fmt.Errorf("get product %d: %w", id, err)
	}
	// A 2xx answer that carries no card (e.g. null) is an unknown card.
	if p.ID == 0 {
		return ProductView{}, apperrors.NotFound("product", strconv.FormatInt(id, 10))
	}
	return s.view(p), nil
}

func (s *Storefront) view(p domain.Product) ProductView {
	inCart := s.cart.QuantityOf(p.ID)
	return ProductView{
		Product:   p,
		Slug:      slug.WithID(p.ID, p.Name),
		Available: cart.AvailableStock(p.Quantity, inCart),
		InCart:    inCart,
	}
}
