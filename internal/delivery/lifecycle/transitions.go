package lifecycle

var transitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusConfirmed: {},
		StatusCanceled:  {},
	},
	StatusConfirmed: {
		StatusCooking:  {},
		StatusCanceled: {},
	},
	StatusCooking: {
		StatusReady: {},
	},
	StatusReady: {
		StatusShipping: {},
	},
	StatusShipping: {
		StatusDelivered: {},
		// failed delivery reported by the assigned shipper
		StatusCanceled: {},
	},
}

// CanTransition returns true when the lifecycle allows moving from current to next status
// without going through the cancellation approval workflow.
func CanTransition(current, next Status) bool {
	if !current.Known() || !next.Known() {
		return false
	}
	if current == next {
		return true
	}
	allowed, ok := transitions[current]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// Next returns the happy-path successor of s, if any.
func Next(s Status) (Status, bool) {
	switch s {
	case StatusPending:
		return StatusConfirmed, true
	case StatusConfirmed:
		return StatusCooking, true
	case StatusCooking:
		return StatusReady, true
	case StatusReady:
		return StatusShipping, true
	case StatusShipping:
		return StatusDelivered, true
	}
	return "", false
}

// CancelPath tells which cancellation mechanism applies to an order.
type CancelPath int

const (
	// CancelNone means the order cannot be canceled any more.
	CancelNone CancelPath = iota
	// CancelSelfService allows the customer to cancel directly.
	CancelSelfService
	// CancelByRequest requires a cancellation request resolved by an admin.
	CancelByRequest
)

func (p CancelPath) String() string {
	switch p {
	case CancelSelfService:
		return "self_service"
	case CancelByRequest:
		return "request"
	default:
		return "none"
	}
}

// SelfCancelable reports whether the customer may cancel without approval.
func SelfCancelable(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

// PathFor returns the cancellation path offered for the given status.
// Unknown statuses offer nothing.
func PathFor(s Status) CancelPath {
	switch {
	case SelfCancelable(s):
		return CancelSelfService
	case s.Known() && !s.Terminal():
		return CancelByRequest
	default:
		return CancelNone
	}
}
