package model

import (
	"time"

	"foodflow/internal/delivery/lifecycle"
)

// Resolution is the state of a cancellation request.
type Resolution string

// Cancellation request resolutions.
const (
	ResolutionPending  Resolution = "PENDING"
	ResolutionApproved Resolution = "APPROVED"
	ResolutionRejected Resolution = "REJECTED"
)

// CancellationRequest is a customer proposal to cancel an order that
// progressed past the self-service window.
type CancellationRequest struct {
	ID               int64      `json:"id"`
	OrderID          int64      `json:"order_id"`
	RequesterRole    Role       `json:"requester_role"`
	RequesterID      int64      `json:"requester_id"`
	Reason           string     `json:"reason,omitempty"`
	Resolution       Resolution `json:"resolution"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`

	// Context for the admin queue.
	CustomerID   int64            `json:"customer_id"`
	RestaurantID int64            `json:"restaurant_id"`
	OrderStatus  lifecycle.Status `json:"order_status"`
	OrderTotal   int64            `json:"order_total"`
}

// Pending reports whether the request still awaits an admin decision.
func (r CancellationRequest) Pending() bool { return r.Resolution == ResolutionPending }
