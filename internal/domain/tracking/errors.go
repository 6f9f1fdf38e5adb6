package tracking

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/pickup-proximity/internal/domain/order"
)

// Sentinel errors surfaced to callers.
var (
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrTimeout     = errors.New("timeout")
	ErrUnavailable = errors.New("unavailable")
)

// ValidationError names the first offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PreconditionError reports an order whose state does not accept tracking.
type PreconditionError struct {
	OrderID string
	State   order.State
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("order %s is %s and does not accept location updates", e.OrderID, e.State)
}

// infraError classifies a storage failure as ErrTimeout or ErrUnavailable,
// leaving domain errors untouched.
func infraError(op string, err error) error {
	var (
		vErr *ValidationError
		pErr *PreconditionError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable),
		errors.As(err, &vErr), errors.As(err, &pErr):
		return err
	case errors.Is(err, order.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// reason is a low-cardinality label for a failed call.
func reason(err error) string {
	var (
		vErr *ValidationError
		pErr *PreconditionError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &pErr):
		return "precondition"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "other"
}
