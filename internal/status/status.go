package status

import "fmt"

// Status enumerates document lifecycle states shared by expense claims
// and cash advancements.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusFirstApproved Status = "FIRST_APPROVED"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusCancelled     Status = "CANCELLED"
	StatusSettled       Status = "SETTLED"
)

// transitions holds the directed edges of the lifecycle. Any pair not
// listed here is illegal.
var transitions = map[Status]map[Status]bool{
	StatusDraft: {
		StatusSubmitted: true,
	},
	StatusSubmitted: {
		StatusCancelled:     true,
		StatusRejected:      true,
		StatusFirstApproved: true,
		StatusApproved:      true,
		StatusSettled:       true,
	},
	StatusFirstApproved: {
		StatusRejected: true,
		StatusApproved: true,
		StatusSettled:  true,
	},
	StatusApproved: {
		StatusRejected: true,
		StatusSettled:  true,
	},
	StatusCancelled: {
		StatusSubmitted: true,
	},
	StatusRejected: {
		StatusSubmitted: true,
	},
	StatusSettled: {
		StatusSubmitted: true,
	},
}

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("status: illegal transition %s -> %s", e.From, e.To)
}

// Known reports whether s is a recognised lifecycle state.
func Known(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidateTransition returns nil when the edge from -> to is legal and a
// *TransitionError naming both states otherwise. It performs no I/O and is
// the single source of truth consulted before any mutating write.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// InUse reports whether a document in state s still counts against prior
// balance usage.
func InUse(s Status) bool {
	switch s {
	case StatusSubmitted, StatusFirstApproved, StatusApproved, StatusSettled:
		return true
	default:
		return false
	}
}

// All lists every lifecycle state.
func All() []Status {
	return []Status{
		StatusDraft,
		StatusSubmitted,
		StatusFirstApproved,
		StatusApproved,
		StatusRejected,
		StatusCancelled,
		StatusSettled,
	}
}
