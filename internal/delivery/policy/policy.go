// Package policy holds the server side rules for order mutations. Every
// function validates the request against the current order and, when allowed,
// applies the change to the order in place, appending to its history.
package policy

import (
	"strings"
	"time"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// Actor is the authenticated caller.
type Actor struct {
	Role model.Role
	ID   int64
}

// Errors reported by the rules. They compare with errors.Is by code.
var (
	ErrNotFound          = apperr.New(apperr.CodeNotFound, "order not found")
	ErrRequestNotFound   = apperr.New(apperr.CodeNotFound, "cancellation request not found")
	ErrAlreadyAssigned   = apperr.New(apperr.CodeAlreadyAssigned, "order already claimed by another shipper")
	ErrNotReady          = apperr.New(apperr.CodeNotReady, "order is not ready for pickup")
	ErrNotEligible       = apperr.New(apperr.CodeNotEligible, "order cannot be claimed")
	ErrCannotCancel      = apperr.New(apperr.CodeCannotCancel, "order is past the self-service cancellation window")
	ErrInvalidTransition = apperr.New(apperr.CodeInvalidTransition, "status change not allowed")
	ErrAlreadyResolved   = apperr.New(apperr.CodeAlreadyResolved, "cancellation request already resolved")
	ErrReasonRequired    = apperr.New(apperr.CodeReasonRequired, "reason is required")
	ErrForbidden         = apperr.New(apperr.CodeForbidden, "not allowed for this actor")
	ErrConflict          = apperr.New(apperr.CodeConflict, "order changed concurrently")
)

var roleTransitions = map[model.Role]map[lifecycle.Status][]lifecycle.Status{
	model.RoleMerchant: {
		lifecycle.StatusPending:   {lifecycle.StatusConfirmed, lifecycle.StatusCanceled},
		lifecycle.StatusConfirmed: {lifecycle.StatusCooking, lifecycle.StatusCanceled},
		lifecycle.StatusCooking:   {lifecycle.StatusReady},
	},
	model.RoleShipper: {
		lifecycle.StatusReady:    {lifecycle.StatusShipping},
		lifecycle.StatusShipping: {lifecycle.StatusDelivered, lifecycle.StatusCanceled},
	},
}

// MayAdvance reports whether role may request from -> to as a status update.
// Customers cancel through SelfCancel and never update statuses directly.
func MayAdvance(role model.Role, from, to lifecycle.Status) bool {
	if !lifecycle.CanTransition(from, to) {
		return false
	}
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleCustomer:
		return false
	}
	if from == to {
		_, ok := roleTransitions[role]
		return ok
	}
	for _, s := range roleTransitions[role][from] {
		if s == to {
			return true
		}
	}
	return false
}

func owns(actor Actor, o model.Order) bool {
	switch actor.Role {
	case model.RoleAdmin:
		return true
	case model.RoleMerchant:
		return o.RestaurantID == actor.ID
	case model.RoleCustomer:
		return o.CustomerID == actor.ID
	case model.RoleShipper:
		return o.AssignedTo(actor.ID)
	}
	return false
}

func record(o *model.Order, status lifecycle.Status, note string, now time.Time) {
	o.Status = status
	o.StatusText = ""
	o.UpdatedAt = now
	o.History = append(o.History, model.HistoryEntry{Status: status, Note: strings.TrimSpace(note), CreatedAt: now})
}

// Advance applies a status update requested by actor. Re-applying the current
// status is accepted and reports changed=false.
func Advance(o *model.Order, actor Actor, next lifecycle.Status, note string, now time.Time) (bool, error) {
	if !owns(actor, *o) {
		return false, ErrForbidden
	}
	if !next.Known() || !lifecycle.CanTransition(o.Status, next) {
		return false, ErrInvalidTransition
	}
	if !MayAdvance(actor.Role, o.Status, next) {
		return false, ErrForbidden
	}
	if o.Status == next {
		return false, nil
	}
	record(o, next, note, now)
	return true, nil
}

// Claim assigns shipperID to o. Only READY orders are claimable. A repeated
// claim by the winning shipper succeeds with changed=false.
func Claim(o *model.Order, shipperID int64, now time.Time) (bool, error) {
	if o.HasShipper() {
		if o.AssignedTo(shipperID) {
			return false, nil
		}
		return false, ErrAlreadyAssigned
	}
	switch o.Status {
	case lifecycle.StatusReady:
	case lifecycle.StatusPending, lifecycle.StatusConfirmed, lifecycle.StatusCooking:
		return false, ErrNotReady
	default:
		return false, ErrNotEligible
	}
	id := shipperID
	o.ShipperID = &id
	o.UpdatedAt = now
	o.History = append(o.History, model.HistoryEntry{Status: o.Status, Note: "claimed by shipper", CreatedAt: now})
	return true, nil
}

// SelfCancel cancels o on behalf of its customer. Only PENDING and CONFIRMED
// orders can be canceled without approval.
func SelfCancel(o *model.Order, customerID int64, reason string, now time.Time) error {
	if o.CustomerID != customerID {
		return ErrForbidden
	}
	if !lifecycle.SelfCancelable(o.Status) {
		return ErrCannotCancel
	}
	note := "canceled by customer"
	if r := strings.TrimSpace(reason); r != "" {
		note += ": " + r
	}
	record(o, lifecycle.StatusCanceled, note, now)
	return nil
}

// CheckCancelRequest validates that customerID may ask for o to be canceled.
func CheckCancelRequest(o model.Order, customerID int64) error {
	if o.CustomerID != customerID {
		return ErrForbidden
	}
	switch lifecycle.PathFor(o.Status) {
	case lifecycle.CancelByRequest:
		return nil
	case lifecycle.CancelSelfService:
		return apperr.New(apperr.CodeInvalidTransition, "order can be canceled directly")
	}
	return ErrCannotCancel
}

// NewCancelRequest builds a pending request for o.
func NewCancelRequest(o model.Order, customerID int64, reason string, now time.Time) model.CancellationRequest {
	return model.CancellationRequest{
		OrderID:       o.ID,
		RequesterRole: model.RoleCustomer,
		RequesterID:   customerID,
		Reason:        strings.TrimSpace(reason),
		Resolution:    model.ResolutionPending,
		CreatedAt:     now,
		CustomerID:    o.CustomerID,
		RestaurantID:  o.RestaurantID,
		OrderStatus:   o.Status,
		OrderTotal:    o.Total,
	}
}

// Resolve records an admin decision on req. Approval cancels o when it is
// still active; rejection leaves o untouched. Returns whether o changed.
func Resolve(req *model.CancellationRequest, o *model.Order, approve bool, reason string, requireRejectReason bool, now time.Time) (bool, error) {
	if !req.Pending() {
		return false, ErrAlreadyResolved
	}
	reason = strings.TrimSpace(reason)
	if !approve && requireRejectReason && reason == "" {
		return false, ErrReasonRequired
	}
	if approve && o.Status == lifecycle.StatusDelivered {
		return false, ErrCannotCancel
	}
	resolvedAt := now
	req.ResolvedAt = &resolvedAt
	req.ResolutionReason = reason
	if !approve {
		req.Resolution = model.ResolutionRejected
		return false, nil
	}
	req.Resolution = model.ResolutionApproved
	if o.Status == lifecycle.StatusCanceled {
		req.OrderStatus = o.Status
		return false, nil
	}
	note := "canceled by admin approval"
	if reason != "" {
		note += ": " + reason
	}
	record(o, lifecycle.StatusCanceled, note, now)
	req.OrderStatus = o.Status
	return true, nil
}

// CanView reports whether actor may read o.
func CanView(actor Actor, o model.Order) bool {
	if actor.Role == model.RoleShipper && !o.HasShipper() {
		return true
	}
	return owns(actor, o)
}
