package model

import (
	"time"

	"foodflow/internal/delivery/lifecycle"
)

// LineItem is a single product line of an order.
type LineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// HistoryEntry captures a lifecycle change.
type HistoryEntry struct {
	Status    lifecycle.Status `json:"status"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Position is a display-only shipper location.
type Position struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// Order is the shared entity every role looks at.
type Order struct {
	ID              int64            `json:"id"`
	Status          lifecycle.Status `json:"status"`
	StatusText      string           `json:"status_text,omitempty"`
	CustomerID      int64            `json:"customer_id"`
	RestaurantID    int64            `json:"restaurant_id"`
	ShipperID       *int64           `json:"shipper_id"`
	Total           int64            `json:"total"`
	ShippingFee     int64            `json:"shipping_fee"`
	DeliveryAddress string           `json:"delivery_address"`
	DistanceM       int              `json:"distance_m"`
	Items           []LineItem       `json:"items"`
	History         []HistoryEntry   `json:"history"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Position        *Position        `json:"position,omitempty"`
}

// HasShipper reports whether the order has been claimed.
func (o Order) HasShipper() bool { return o.ShipperID != nil }

// AssignedTo reports whether the order is claimed by the given shipper.
func (o Order) AssignedTo(shipperID int64) bool {
	return o.ShipperID != nil && *o.ShipperID == shipperID
}

// Label returns what should be shown for the status: the raw token for
// unknown statuses, the canonical name otherwise.
func (o Order) Label() string {
	if o.Status == lifecycle.StatusUnknown && o.StatusText != "" {
		return o.StatusText
	}
	return string(o.Status)
}

// Clone returns a deep copy so that callers can mutate it freely.
func (o Order) Clone() Order {
	c := o
	if o.ShipperID != nil {
		id := *o.ShipperID
		c.ShipperID = &id
	}
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	if o.History != nil {
		c.History = append([]HistoryEntry(nil), o.History...)
	}
	if o.Position != nil {
		p := *o.Position
		c.Position = &p
	}
	return c
}

// Int64Ptr is a small helper for nullable identifiers.
func Int64Ptr(v int64) *int64 { return &v }
