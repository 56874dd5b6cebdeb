package roleview

import (
	"context"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// AdvanceStatus requests a status change. When the local copy allows the
// transition the change is shown right away and the backend answer replaces
// it; a failure rolls the view back with a full reload. An order the backend
// no longer knows is dropped from the view.
func (v *View) AdvanceStatus(ctx context.Context, orderID int64, next lifecycle.Status, note string) (model.Order, error) {
	if !next.Known() {
		return model.Order{}, apperr.New(apperr.CodeBadRequest, "unknown target status")
	}
	var tentative bool
	err := v.do(ctx, func() {
		cur, from, ok := v.store.Lookup(orderID)
		if !ok || !lifecycle.CanTransition(cur.Status, next) {
			return
		}
		o := cur.Clone()
		o.Status = next
		o.StatusText = ""
		o.History = append(o.History, model.HistoryEntry{Status: next, Note: note, CreatedAt: v.cfg.Now()})
		o.UpdatedAt = v.cfg.Now()
		v.place(o, from)
		tentative = true
	})
	if err != nil {
		return model.Order{}, err
	}

	o, err := v.backend.UpdateOrderStatus(ctx, orderID, next, note)
	if err != nil {
		v.afterFailure(ctx, orderID, err, tentative)
		return model.Order{}, err
	}
	if err := v.do(ctx, func() { v.put(o) }); err != nil {
		return o, err
	}
	return o, nil
}

// afterFailure brings the view back in line with the backend after an
// action failed.
func (v *View) afterFailure(ctx context.Context, orderID int64, err error, tentative bool) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		if derr := v.do(ctx, func() { v.remove(orderID) }); derr != nil {
			v.resync()
		}
	case apperr.KindConflict, apperr.KindInvalidTransition:
		v.resync()
	default:
		if tentative {
			v.resync()
		}
	}
}

// Silent reports whether a failure should not be shown to the user: the
// order vanished and was already dropped from the view.
func Silent(err error) bool {
	return apperr.KindOf(err) == apperr.KindNotFound
}
