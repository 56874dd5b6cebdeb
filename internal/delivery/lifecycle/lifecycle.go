package lifecycle

import "strings"

// Status is the canonical order state.
type Status string

// List of canonical order statuses.
const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCooking   Status = "COOKING"
	StatusReady     Status = "READY"
	StatusShipping  Status = "SHIPPING"
	StatusDelivered Status = "DELIVERED"
	StatusCanceled  Status = "CANCELED"

	// StatusUnknown marks a raw token that could not be normalized.
	StatusUnknown Status = "UNKNOWN"
)

// All lists the canonical statuses in happy-path order, followed by CANCELED.
var All = []Status{
	StatusPending,
	StatusConfirmed,
	StatusCooking,
	StatusReady,
	StatusShipping,
	StatusDelivered,
	StatusCanceled,
}

var synonyms = map[string]Status{
	"pending":    StatusPending,
	"new":        StatusPending,
	"created":    StatusPending,
	"confirmed":  StatusConfirmed,
	"accepted":   StatusConfirmed,
	"cooking":    StatusCooking,
	"preparing":  StatusCooking,
	"ready":      StatusReady,
	"handover":   StatusReady,
	"shipping":   StatusShipping,
	"delivering": StatusShipping,
	"on_the_way": StatusShipping,
	"picked_up":  StatusShipping,
	"delivered":  StatusDelivered,
	"completed":  StatusDelivered,
	"done":       StatusDelivered,
	"success":    StatusDelivered,
	"canceled":   StatusCanceled,
	"cancelled":  StatusCanceled,
	"failed":     StatusCanceled,
	"rejected":   StatusCanceled,
}

// Normalize maps a raw, case-insensitive status token onto a canonical status.
// Unknown tokens map to StatusUnknown.
func Normalize(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if s, ok := synonyms[key]; ok {
		return s
	}
	return StatusUnknown
}

// UnmarshalText normalizes status tokens coming off the wire.
func (s *Status) UnmarshalText(text []byte) error {
	*s = Normalize(string(text))
	return nil
}

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Known reports whether the status is one of the canonical states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCooking, StatusReady, StatusShipping, StatusDelivered, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}
