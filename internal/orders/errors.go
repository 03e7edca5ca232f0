package orders

import "errors"

var (
	// ErrValidation marks malformed order fields. Always raised before acceptance.
	ErrValidation = errors.New("order validation failed")
	// ErrInsufficientFunds marks orders the account cannot pay or deliver for.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRiskLimitBreach marks well-formed orders rejected purely by risk policy.
	ErrRiskLimitBreach = errors.New("risk limit breach")
	// ErrInvalidStateTransition marks operations on terminal or non-working orders.
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	// ErrUnknownOrder is returned for IDs the manager never issued.
	ErrUnknownOrder = errors.New("order not found")
)
