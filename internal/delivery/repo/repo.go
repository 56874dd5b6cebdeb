package repo

import (
	"context"
	"database/sql"

	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/policy"
)

// Errors shared by the SQL and in-memory repositories.
var (
	ErrNotFound        = policy.ErrNotFound
	ErrRequestNotFound = policy.ErrRequestNotFound
	ErrConflict        = policy.ErrConflict
)

// OrderFilter selects orders. Zero fields do not filter. When both ShipperID
// and Unassigned are set the result is the union of the two sets.
type OrderFilter struct {
	CustomerID   int64
	RestaurantID int64
	ShipperID    int64
	Unassigned   bool
	Statuses     []lifecycle.Status
	Limit        int
	Offset       int
}

// RequestFilter selects cancellation requests.
type RequestFilter struct {
	CustomerID int64
	OrderID    int64
	Resolution model.Resolution
	Limit      int
	Offset     int
}

// MutateFunc changes an order loaded under lock and reports whether
// anything must be persisted.
type MutateFunc func(o *model.Order) (bool, error)

// ResolveFunc records a decision on a request and may change its order.
// It reports whether the order changed.
type ResolveFunc func(req *model.CancellationRequest, o *model.Order) (bool, error)

// RequestFunc builds a new request for a locked order.
type RequestFunc func(o model.Order) (model.CancellationRequest, error)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func statusIn(s lifecycle.Status, set []lifecycle.Status) bool {
	if len(set) == 0 {
		return true
	}
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (f OrderFilter) match(o model.Order) bool {
	if f.CustomerID != 0 && o.CustomerID != f.CustomerID {
		return false
	}
	if f.RestaurantID != 0 && o.RestaurantID != f.RestaurantID {
		return false
	}
	switch {
	case f.ShipperID != 0 && f.Unassigned:
		if !o.AssignedTo(f.ShipperID) && o.HasShipper() {
			return false
		}
	case f.ShipperID != 0:
		if !o.AssignedTo(f.ShipperID) {
			return false
		}
	case f.Unassigned:
		if o.HasShipper() {
			return false
		}
	}
	return statusIn(o.Status, f.Statuses)
}

func (f RequestFilter) match(r model.CancellationRequest) bool {
	if f.CustomerID != 0 && r.CustomerID != f.CustomerID {
		return false
	}
	if f.OrderID != 0 && r.OrderID != f.OrderID {
		return false
	}
	if f.Resolution != "" && r.Resolution != f.Resolution {
		return false
	}
	return true
}

func page(n, limit, offset int) (int, int) {
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
