package roleview

import (
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// reconcile merges one push event into the view. It runs on the view
// goroutine. Applying the same event twice leaves the view as it was after
// the first application.
func (v *View) reconcile(ev model.Event) {
	switch ev.Type {
	case model.EventStatusChanged:
		v.applyStatus(ev)
	case model.EventLocationChanged:
		v.applyLocation(ev)
	case model.EventRequestCreated, model.EventRequestResolved:
		v.applyRequestEvent(ev)
	case model.EventResync:
		v.refreshAsync(true, v.buckets...)
	default:
		v.logf("roleview: ignoring event %q for order %d", ev.Type, ev.OrderID)
	}
}

func eventStatus(ev model.Event) lifecycle.Status {
	if ev.Status != "" && ev.Status != lifecycle.StatusUnknown {
		return ev.Status
	}
	return lifecycle.Normalize(ev.StatusText)
}

func (v *View) applyStatus(ev model.Event) {
	if v.cfg.Role == model.RoleAdmin || ev.OrderID == 0 {
		return
	}
	status := eventStatus(ev)

	cur, from, ok := v.store.Lookup(ev.OrderID)
	if !ok {
		// The view never saw this order, so it cannot be patched: load the
		// bucket it now belongs to.
		probe := model.Order{ID: ev.OrderID, Status: status, ShipperID: ev.ShipperID}
		if target := bucket.ForActor(v.cfg.Role, v.cfg.ActorID, probe); target != bucket.Excluded {
			v.refreshAsync(false, target)
		}
		return
	}

	if cur.Status == status && sameShipper(cur.ShipperID, ev.ShipperID) {
		return
	}
	if stale(cur.Status, status) || (cur.HasShipper() && ev.ShipperID == nil) {
		return
	}
	updated := cur.Clone()
	if updated.Status != status {
		updated.History = append(updated.History, model.HistoryEntry{Status: status, CreatedAt: ev.At})
	}
	updated.Status = status
	updated.StatusText = ev.StatusText
	updated.ShipperID = copyID(ev.ShipperID)
	if !ev.At.IsZero() {
		updated.UpdatedAt = ev.At
	}
	v.place(updated, from)
}

// applyLocation updates the display-only shipper position. An identical
// position is applied at most once per refresh interval; a changed one is
// applied immediately.
func (v *View) applyLocation(ev model.Event) {
	if _, _, ok := v.store.Lookup(ev.OrderID); !ok {
		return
	}
	now := v.cfg.Now()
	if mark, seen := v.locations[ev.OrderID]; seen && mark.lat == ev.Lat && mark.lng == ev.Lng {
		if now.Sub(mark.at) < v.cfg.LocationRefreshInterval {
			v.throttled.Inc()
			return
		}
	}
	v.locations[ev.OrderID] = locationMark{lat: ev.Lat, lng: ev.Lng, at: now}

	at := ev.At
	if at.IsZero() {
		at = now
	}
	var updated model.Order
	v.store.Update(ev.OrderID, func(o *model.Order) {
		o.Position = &model.Position{Lat: ev.Lat, Lng: ev.Lng, At: at}
		updated = o.Clone()
	})
	_, b, _ := v.store.Lookup(ev.OrderID)
	v.notify(Change{Kind: ChangeLocation, OrderID: ev.OrderID, From: b, To: b, Order: updated})
}

func (v *View) applyRequestEvent(ev model.Event) {
	switch v.cfg.Role {
	case model.RoleAdmin:
		if ev.Type == model.EventRequestResolved {
			if _, ok := v.queue[ev.RequestID]; ok {
				delete(v.queue, ev.RequestID)
				v.notify(Change{Kind: ChangeRequests, OrderID: ev.OrderID})
			}
			return
		}
		v.refreshRequestsAsync()
	case model.RoleCustomer:
		v.refreshRequestsAsync()
	}
}

func (v *View) refreshRequestsAsync() {
	v.refreshAsync(true)
}

// stale reports whether an event would take an order back along its
// lifecycle. The backend only moves orders forward and never unassigns a
// shipper, so such an event is older than what the view already shows.
func stale(cur, next lifecycle.Status) bool {
	if !cur.Known() || !next.Known() {
		return false
	}
	if cur.Terminal() {
		return next != cur
	}
	return rank(next) < rank(cur)
}

func rank(s lifecycle.Status) int {
	for i, st := range lifecycle.All {
		if st == s {
			return i
		}
	}
	return -1
}

func sameShipper(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
