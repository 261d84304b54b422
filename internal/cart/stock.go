package cart

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// ErrInsufficientStock is returned when a request asks for more units than
// the server has left after what is already in the cart.
var ErrInsufficientStock = errors.New("insufficient stock")

// AvailableStock is serverStock minus what the cart already holds, never negative.
func AvailableStock(serverStock, inCart int) int {
	return max(serverStock-inCart, 0)
}

// CheckStock refuses a request that exceeds the available stock.
func CheckStock(serverStock, inCart, requested int) error {
	available := AvailableStock(serverStock, inCart)
	if requested <= available {
		return nil
	}
	return apperrors.New(apperrors.CodeInsufficientStock, http.StatusUnprocessableEntity,
		fmt.Sprintf("You can't add more than %d items to the cart.", available),
		apperrors.ErrInvalidInput, ErrInsufficientStock)
}
