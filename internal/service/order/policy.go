package order

import (
	"fmt"

	"github.com/Additional-Code/bistro/internal/config"
	"github.com/Additional-Code/bistro/internal/entity"
)

// TransitionPolicy decides which status changes updateOrderStatus accepts.
type TransitionPolicy interface {
	Name() string
	Allows(from, to entity.OrderStatus) bool
}

// transitionTable maps a source status to the statuses it may move to.
type transitionTable struct {
	name  string
	edges map[entity.OrderStatus]map[entity.OrderStatus]bool
}

func (t transitionTable) Name() string { return t.name }

func (t transitionTable) Allows(from, to entity.OrderStatus) bool {
	return t.edges[from][to]
}

func edges(from entity.OrderStatus, to ...entity.OrderStatus) map[entity.OrderStatus]bool {
	m := make(map[entity.OrderStatus]bool, len(to))
	for _, s := range to {
		if s != from {
			m[s] = true
		}
	}
	return m
}

// StrictPolicy lets active orders move freely among active statuses and into
// a terminal one, except that ready orders can no longer go back to pending.
// Terminal orders never change.
func StrictPolicy() TransitionPolicy {
	return transitionTable{
		name: config.TransitionStrict,
		edges: map[entity.OrderStatus]map[entity.OrderStatus]bool{
			entity.OrderPending:   edges(entity.OrderPending, entity.OrderStatuses...),
			entity.OrderPreparing: edges(entity.OrderPreparing, entity.OrderStatuses...),
			entity.OrderReady:     edges(entity.OrderReady, entity.OrderPreparing, entity.OrderCompleted, entity.OrderCancelled),
		},
	}
}

// PermissivePolicy accepts any status change, including reopening completed
// or cancelled orders.
func PermissivePolicy() TransitionPolicy {
	table := make(map[entity.OrderStatus]map[entity.OrderStatus]bool, len(entity.OrderStatuses))
	for _, from := range entity.OrderStatuses {
		table[from] = edges(from, entity.OrderStatuses...)
	}
	return transitionTable{name: config.TransitionPermissive, edges: table}
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (TransitionPolicy, error) {
	switch name {
	case "", config.TransitionStrict:
		return StrictPolicy(), nil
	case config.TransitionPermissive:
		return PermissivePolicy(), nil
	default:
		return nil, fmt.Errorf("unknown transition policy %q", name)
	}
}
