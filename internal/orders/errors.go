package orders

import "errors"

var (
	// ErrEmptyCart is returned when an order is requested for an empty cart.
	ErrEmptyCart = errors.New("orders: cart is empty")
	// ErrTotalTooLarge is returned before any I/O when the cart total exceeds
	// domain.MaxAmount.
	ErrTotalTooLarge = errors.New("orders: cart total exceeds limit")
	// ErrSubmissionFailed wraps any failure to record the order remotely.
	ErrSubmissionFailed = errors.New("orders: submission failed")
	// ErrCartNotCleared is returned together with the recorded order when the
	// order was written but the cart could not be emptied afterwards. Callers
	// should keep the request token so a resubmission targets the same record.
	ErrCartNotCleared = errors.New("orders: order recorded but cart not cleared")
)
