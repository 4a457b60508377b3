package engine

import (
	"errors"
	"fmt"

	"poolEngine/internal/curve"
	"poolEngine/internal/fixedpoint"
	"poolEngine/internal/gateway"
	"poolEngine/internal/pool"
)

var (
	ErrNotSeeded                     = pool.ErrNotSeeded
	ErrAlreadySeeded                 = pool.ErrAlreadySeeded
	ErrSlippageExceeded              = curve.ErrSlippageExceeded
	ErrBelowMinOut                   = errors.New("output below requested minimum")
	ErrSingleAssetOperationsDisabled = errors.New("single-asset operations disabled")
	ErrInvalidPayment                = errors.New("invalid payment")
	ErrInvariantViolation            = errors.New("invariant violation")
	ErrExternalCallFailed            = errors.New("external call failed")
	ErrVariantMismatch               = errors.New("operation not supported by pool curve")
	ErrReentrantCall                 = errors.New("reentrant call")
	ErrNotActivated                  = errors.New("pool not activated")
)

// classify attaches the caller-facing sentinel to errors raised by the math
// layers. Errors already carrying a sentinel pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotSeeded),
		errors.Is(err, ErrAlreadySeeded),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, ErrBelowMinOut),
		errors.Is(err, ErrSingleAssetOperationsDisabled),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, ErrExternalCallFailed),
		errors.Is(err, ErrVariantMismatch),
		errors.Is(err, ErrReentrantCall),
		errors.Is(err, ErrNotActivated):
		return err
	case errors.Is(err, curve.ErrInvalidAmount),
		errors.Is(err, curve.ErrInvalidShares),
		errors.Is(err, curve.ErrNothingMinted),
		errors.Is(err, curve.ErrNothingReturned),
		errors.Is(err, curve.ErrOverflow),
		errors.Is(err, pool.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrInvalidPayment, err)
	case errors.Is(err, pool.ErrInvariantDecreased),
		errors.Is(err, pool.ErrStateDrift),
		errors.Is(err, fixedpoint.ErrNoConvergence),
		errors.Is(err, fixedpoint.ErrNonPositiveBalance):
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	case errors.Is(err, gateway.ErrInsufficientShare),
		errors.Is(err, gateway.ErrSessionClosed),
		errors.Is(err, gateway.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrExternalCallFailed, err)
	default:
		return err
	}
}

// external wraps a gateway failure.
func external(call string, err error) error {
	if errors.Is(err, ErrReentrantCall) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrExternalCallFailed, call, err)
}

// Reason returns a short label for the sentinel carried by err, for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotSeeded):
		return "not_seeded"
	case errors.Is(err, ErrAlreadySeeded):
		return "already_seeded"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrBelowMinOut):
		return "below_min_out"
	case errors.Is(err, ErrSingleAssetOperationsDisabled):
		return "disabled"
	case errors.Is(err, ErrInvalidPayment):
		return "invalid_payment"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, ErrExternalCallFailed):
		return "external"
	case errors.Is(err, ErrVariantMismatch):
		return "variant_mismatch"
	case errors.Is(err, ErrNotActivated):
		return "not_activated"
	default:
		return "internal"
	}
}
