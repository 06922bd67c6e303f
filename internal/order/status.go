package order

import "github.com/idcstack/idc-control-plane/internal/model"

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending: {model.OrderPaid, model.OrderCancelled},
	model.OrderPaid:    {model.OrderCompleted, model.OrderCancelled},
}

func CanTransition(from, to model.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s model.OrderStatus) bool {
	return s == model.OrderCancelled || s == model.OrderCompleted
}

// ParseStatus accepts only the four known statuses.
func ParseStatus(raw string) (model.OrderStatus, bool) {
	switch s := model.OrderStatus(raw); s {
	case model.OrderPending, model.OrderPaid, model.OrderCancelled, model.OrderCompleted:
		return s, true
	}
	return "", false
}
