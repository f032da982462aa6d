package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig marks configuration errors detected at start-up.
	// No partial run is attempted when one is returned.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvariant marks a violated queueing invariant during a run.
	// It signals a modeling or logic defect rather than a data anomaly.
	ErrInvariant = errors.New("invariant violation")
)

// InvariantError describes which run-time check failed and when.
type InvariantError struct {
	Check  string
	Time   float64
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated at t=%.6f: %s", e.Check, e.Time, e.Detail)
}

// Unwrap lets errors.Is(err, ErrInvariant) match.
func (e *InvariantError) Unwrap() error { return ErrInvariant }

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
