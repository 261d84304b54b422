// Package service implements the storefront use cases on top of the cart,
// the session and the backend.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/cart"
	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	"github.com/utafrali/storefront/internal/storage"
)

// Backend is the subset of the REST client the use cases need.
type Backend interface {
	Login(ctx context.Context, username, password string) (domain.TokenPair, error)
	Register(ctx context.Context, reg domain.Registration) (domain.User, error)
	Me(ctx context.Context, accessToken string) (domain.User, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	CreateProduct(ctx context.Context, token string, in domain.ListingInput) (domain.Product, error)
	UpdateProduct(ctx context.Context, token string, id int64, in domain.ListingInput) (domain.Product, error)
	DeleteProduct(ctx context.Context, token string, id int64) error
}

// Sessions is the session manager as seen by the use cases.
type Sessions interface {
	Token() string
	TokenType() string
	State() session.State
	SessionID() string
	Login(ctx context.Context, pair domain.TokenPair) error
	Logout(ctx context.Context)
	RefreshAccessToken(ctx context.Context) (string, error)
}

// Options tweaks use case behaviour.
type Options struct {
	// CheckoutClearsCart empties the cart after a successful checkout.
	CheckoutClearsCart bool
	// ReplayStore, when set, keeps checkout confirmations for idempotent
	// replays in durable storage instead of process memory.
	ReplayStore storage.Store
}

// Storefront bundles the use cases.
type Storefront struct {
	backend  Backend
	cart     *cart.Store
	sessions Sessions
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	// addMu makes the stock check and the add one step.
	addMu         sync.Mutex
	confirmations confirmationStore
}

// checkoutReplayWindow is how long an idempotency key maps to its confirmation.
const checkoutReplayWindow = 24 * time.Hour

// New creates the storefront use cases.
func New(backend Backend, cartStore *cart.Store, sessions Sessions, opts Options, logger *slog.Logger) *Storefront {
	var confirmations confirmationStore = newConfirmationCache(checkoutReplayWindow)
	if opts.ReplayStore != nil {
		confirmations = newStoredConfirmations(opts.ReplayStore, checkoutReplayWindow, logger)
	}
	return &Storefront{
		backend:  backend,
		cart:     cartStore,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
		now:      time.Now,

		confirmations: confirmations,
	}
}
