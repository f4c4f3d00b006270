package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// Request validation and accounting errors, surfaced synchronously
	// to the caller with no partial state mutation.
	ErrValidation        = errors.New("invalid request parameters")
	ErrInsufficientFunds = errors.New("insufficient available collateral")
	ErrPositionNotFound  = errors.New("position not found")
	ErrPositionClosed    = errors.New("position already settled")

	// Price feed errors. Staleness is only enforced when opening a
	// position; settlement paths accept any cached price.
	ErrPriceUnavailable = errors.New("no price available for pair")
	ErrStalePrice       = errors.New("price feed is stale")

	// Database specific errors.
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
