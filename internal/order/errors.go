package order

import (
	"errors"
	"fmt"

	"github.com/satlend/exit-engine/internal/model"
)

// ErrIllegalTransition is returned when an operation is not allowed from the
// order's current status.
var ErrIllegalTransition = errors.New("order: illegal status transition")

// ExchangeError wraps a failed gateway call. Local state is unchanged unless
// the exchange explicitly rejected the order.
type ExchangeError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the exchange refused the order outright.
func (e *ExchangeError) Rejected() bool {
	return errors.Is(e.Err, ErrRejected)
}

func illegal(op string, o *model.SellOrder) error {
	return fmt.Errorf("%s order %s in status %s: %w", op, o.ID, o.Status, ErrIllegalTransition)
}
