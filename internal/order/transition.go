package order

import "github.com/satlend/exit-engine/internal/model"

// transitions lists every status an order may move to from each status.
// COMPLETED and CANCELLED are terminal; FAILED orders are only withdrawn
// or replaced.
var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.StatusPlanned: {model.StatusSubmitted, model.StatusFailed},
	model.StatusSubmitted: {
		model.StatusPartiallyFilled,
		model.StatusCompleted,
		model.StatusCancelled,
		model.StatusFailed,
	},
	model.StatusPartiallyFilled: {model.StatusCompleted, model.StatusCancelled},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Withdrawable reports whether an order may be removed without talking to
// the exchange.
func Withdrawable(s model.OrderStatus) bool {
	return s == model.StatusPlanned || s == model.StatusFailed
}
