package order

import "strings"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// Statuses lists every accepted status, fulfilment chain first.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusReturned,
}

// rank orders the forward fulfilment chain.
var rank = map[Status]int{
	StatusPending:    1,
	StatusConfirmed:  2,
	StatusProcessing: 3,
	StatusShipped:    4,
	StatusDelivered:  5,
}

// ParseStatus returns the Status named by s. Matching is exact after trimming.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", &InvalidStatusError{Status: s}
	}
	return st, nil
}

// Valid reports whether s is one of the seven statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the order's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned
}

// CanTransitionTo reports whether moving from s to next is legal when
// transitions are enforced. The chain only moves forward, possibly skipping
// steps. Cancellation is allowed until delivery and a return from any
// non-terminal status. Staying in the same status is always allowed.
func (s Status) CanTransitionTo(next Status) bool {
	switch {
	case s == next:
		return true
	case s.Terminal():
		return false
	case next == StatusCancelled:
		return s != StatusDelivered
	case next == StatusReturned:
		return true
	default:
		r, ok := rank[next]
		return ok && r > rank[s]
	}
}
