package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the per-asset failure taxonomy. These are recoverable
// for the batch: the failing asset's record is flagged or omitted while
// sibling computations continue.
var (
	// ErrDivisionByZero is returned when a pool has no liquidity at all
	// (available + borrowed == 0) or a zero USD total, leaving utilization
	// or per-dollar yield undefined.
	ErrDivisionByZero = errors.New("division by zero: pool is empty")

	// ErrMissingData is returned when a requested asset is absent from a
	// fetched snapshot or price map.
	ErrMissingData = errors.New("missing data")

	// ErrPrecisionOverflow is returned when scaled-decimal arithmetic
	// exceeds the representable range. Fatal for that computation; the
	// result must never silently wrap.
	ErrPrecisionOverflow = errors.New("precision overflow")
)

// ConfigurationError reports curve or protocol parameters outside their
// domain. Fatal: it aborts a batch before any asset is processed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
