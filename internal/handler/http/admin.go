package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/domain"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
)

// maxUploadMemory bounds the part of a listing form kept in memory.
const maxUploadMemory = 10 << 20

// CreateListing handles POST /api/v1/admin/products
func (h *StorefrontHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	in, err := parseListingForm(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer closeUpload(in)
	product, err := h.service.CreateListing(r.Context(), in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, product)
}

// UpdateListing handles PUT /api/v1/admin/products/{id}
func (h *StorefrontHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	in, err := parseListingForm(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer closeUpload(in)
	product, err := h.service.UpdateListing(r.Context(), id, in)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, product)
}

// DeleteListing handles DELETE /api/v1/admin/products/{id}
func (h *StorefrontHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.service.DeleteListing(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseListingForm reads the multipart listing form. The image part is optional
// here; the use case decides whether it is required.
func parseListingForm(r *http.Request) (domain.ListingInput, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return domain.ListingInput{}, apperrors.InvalidInput("expected a multipart form: " + err.Error())
	}

	in := domain.ListingInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
	}

	price, err := decimal.NewFromString(r.FormValue("price"))
	if err != nil {
		return domain.ListingInput{}, apperrors.InvalidInput("Price must be a number")
	}
	in.Price = price

	quantity, err := strconv.Atoi(r.FormValue("quantity"))
	if err != nil {
		return domain.ListingInput{}, apperrors.InvalidInput("Quantity must be a whole number")
	}
	in.Quantity = quantity

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		in.Image = &domain.Upload{Filename: header.Filename, Content: file}
	case errors.Is(err, http.ErrMissingFile):
	default:
		return domain.ListingInput{}, apperrors.InvalidInput("unreadable image: " + err.Error())
	}
	return in, nil
}

func closeUpload(in domain.ListingInput) {
	if in.Image == nil {
		return
	}
	if c, ok := in.Image.Content.(io.Closer); ok {
		_ = c.Close()
	}
}
