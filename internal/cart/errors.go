package cart

import "errors"

var (
	// ErrMalformedSnapshot marks a persisted cart that could not be decoded.
	// Open recovers from it by starting with an empty cart.
	ErrMalformedSnapshot = errors.New("cart: malformed persisted cart")
	// ErrInvalidIndex is returned when Remove is given an out-of-range position.
	ErrInvalidIndex = errors.New("cart: invalid line index")
	// ErrTotalTooLarge is returned by Add when the cart total would exceed
	// domain.MaxAmount. The cart is left unchanged.
	ErrTotalTooLarge = errors.New("cart: total exceeds limit")
)
