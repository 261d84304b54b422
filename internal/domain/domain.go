package domain

import (
	"io"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/validator"
)

// LineItem is one product the shopper intends to buy. Quantity is purchase
// intent, not server stock.
type LineItem struct {
	ID       int64           `json:"id" validate:"gt=0"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gt=0"`
	ImageURL string          `json:"image_url,omitempty"`
}

// NewLineItem builds a validated line item.
func NewLineItem(id int64, name string, price decimal.Decimal, quantity int) (LineItem, error) {
	item := LineItem{ID: id, Name: name, Price: price, Quantity: quantity}
	if err := item.Validate(); err != nil {
		return LineItem{}, err
	}
	return item, nil
}

// Validate rejects a non-positive id, quantity or price and an empty name.
func (li LineItem) Validate() error {
	if err := validator.Validate(li); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if !li.Price.IsPositive() {
		return apperrors.InvalidInput("price must be greater than 0")
	}
	return nil
}

// LineTotal is price times quantity, unrounded.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Product is a catalog card as served by the backend. Quantity is stock.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url"`
}

// LineItem turns the product into a cart entry for quantity units.
func (p Product) LineItem(quantity int) (LineItem, error) {
	item, err := NewLineItem(p.ID, p.Name, p.Price, quantity)
	if err != nil {
		return LineItem{}, err
	}
	item.ImageURL = p.ImageURL
	return item, nil
}

// User is the profile returned by /me.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

// TokenPair is what a successful login hands out.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Credentials is a username/password login attempt.
type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration is a new account request. Password strength is the server's call.
type Registration struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Upload is an image attached to a listing.
type Upload struct {
	Filename string
	Content  io.Reader
}

// ListingInput carries the fields of the create and edit listing forms.
type ListingInput struct {
	Name        string          `validate:"required"`
	Description string          `validate:"required"`
	Price       decimal.Decimal `validate:"-"`
	Quantity    int             `validate:"gte=0"`
	Image       *Upload         `validate:"-"`
}

// Validate checks the form. Creating a listing needs an image; editing does not.
func (in ListingInput) Validate(requireImage bool) error {
	if err := validator.Validate(in); err != nil {
		return err
	}
	if !in.Price.IsPositive() {
		return apperrors.InvalidInput("Price must be greater than 0")
	}
	if requireImage && (in.Image == nil || in.Image.Content == nil) {
		return apperrors.InvalidInput("Image is required")
	}
	return nil
}
