package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// requireAdmin returns the token to act with once the profile says is_admin.
// The backend still authorizes every call.
func (s *Storefront) requireAdmin(ctx context.Context) (string, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if !user.IsAdmin {
		return "", apperrors.Forbidden("Admin access required")
	}
	return s.sessions.Token(), nil
}

// CreateListing adds a product to the catalog.
func (s *Storefront) CreateListing(ctx context.Context, in domain.ListingInput) (domain.Product, error) {
	if err := in.Validate(true); err != nil {
		return domain.Product{}, err
	}
	token, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := s.backend.CreateProduct(ctx, token, in)
	if err != nil {
		return domain.Product{}, fmt.Errorf("create listing: %w", err)
	}
	s.logger.InfoContext(ctx, "listing created", slog.Int64("product_id", p.ID))
	return p, nil
}

// UpdateListing edits a product. The image is optional.
func (s *Storefront) UpdateListing(ctx context.Context, id int64, in domain.ListingInput) (domain.Product, error) {
	if err := in.Validate(false); err != nil {
		return domain.Product{}, err
	}
	token, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := s.backend.UpdateProduct(ctx, token, id, in)
	if err != nil {
		return domain.Product{}, fmt.Errorf("update listing %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "listing updated", slog.Int64("product_id", id))
	return p, nil
}

// DeleteListing removes a product from the catalog. Carts holding it keep
// their entry until the shopper removes it.
func (s *Storefront) DeleteListing(ctx context.Context, id int64) error {
	token, err := s.requireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteProduct(ctx, token, id); err != nil {
		return fmt.Errorf("delete listing %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "listing deleted", slog.Int64("product_id", id))
	return nil
}
