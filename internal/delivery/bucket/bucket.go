package bucket

import (
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// ID names a tab within a role's view.
type ID string

// Bucket identifiers.
const (
	Excluded ID = ""

	New        ID = "new"
	InProgress ID = "in_progress"
	Ready      ID = "ready"
	Completed  ID = "completed"

	Available  ID = "available"
	Delivering ID = "delivering"

	Orders ID = "orders"
)

var layouts = map[model.Role][]ID{
	model.RoleMerchant: {New, InProgress, Ready, Completed},
	model.RoleShipper:  {Available, Delivering, Completed},
	model.RoleCustomer: {Orders},
	model.RoleAdmin:    nil,
}

// Buckets returns the ordered bucket layout for role. Admins have no order
// buckets; their view is the cancellation request queue.
func Buckets(role model.Role) []ID {
	return append([]ID(nil), layouts[role]...)
}

// Has reports whether b is one of role's buckets.
func Has(role model.Role, b ID) bool {
	for _, id := range layouts[role] {
		if id == b {
			return true
		}
	}
	return false
}

// Classify maps an order status onto a bucket of role. It is total: every
// input yields either a bucket or Excluded.
func Classify(role model.Role, status lifecycle.Status, hasShipper bool) ID {
	switch role {
	case model.RoleMerchant:
		return merchant(status)
	case model.RoleShipper:
		return shipper(status, hasShipper)
	case model.RoleCustomer:
		if status == lifecycle.StatusCanceled {
			return Excluded
		}
		return Orders
	}
	return Excluded
}

func merchant(status lifecycle.Status) ID {
	switch status {
	case lifecycle.StatusPending, lifecycle.StatusConfirmed:
		return New
	case lifecycle.StatusCooking:
		return InProgress
	case lifecycle.StatusReady:
		return Ready
	case lifecycle.StatusDelivered:
		return Completed
	}
	return Excluded
}

// Once claimed the assignment decides, not the status label.
func shipper(status lifecycle.Status, hasShipper bool) ID {
	switch status {
	case lifecycle.StatusPending, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady:
		if hasShipper {
			if status == lifecycle.StatusPending {
				return Excluded
			}
			return Delivering
		}
		return Available
	case lifecycle.StatusShipping:
		if hasShipper {
			return Delivering
		}
		return Excluded
	case lifecycle.StatusDelivered:
		return Completed
	}
	return Excluded
}

// ForOrder classifies o for role.
func ForOrder(role model.Role, o model.Order) ID {
	return Classify(role, o.Status, o.HasShipper())
}

// ForActor classifies o for a specific actor. Shippers never see orders
// claimed by somebody else.
func ForActor(role model.Role, actorID int64, o model.Order) ID {
	if role == model.RoleShipper && o.HasShipper() && !o.AssignedTo(actorID) {
		return Excluded
	}
	return ForOrder(role, o)
}
