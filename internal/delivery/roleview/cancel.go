package roleview

import (
	"context"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// CancelFailure classifies a failed cancellation for display.
type CancelFailure int

// Cancellation failure classes.
const (
	CancelFailureNone CancelFailure = iota
	CancelFailurePastWindow
	CancelFailureNotFound
	CancelFailureTransient
	CancelFailureOther
)

func (f CancelFailure) String() string {
	switch f {
	case CancelFailureNone:
		return "none"
	case CancelFailurePastWindow:
		return "past_window"
	case CancelFailureNotFound:
		return "not_found"
	case CancelFailureTransient:
		return "transient"
	}
	return "other"
}

// ClassifyCancelError maps a cancellation error onto what the customer is
// told: the window closed, the order is gone, or try again.
func ClassifyCancelError(err error) CancelFailure {
	if err == nil {
		return CancelFailureNone
	}
	if apperr.CodeOf(err) == apperr.CodeCannotCancel {
		return CancelFailurePastWindow
	}
	switch apperr.KindOf(err) {
	case apperr.KindInvalidTransition, apperr.KindConflict:
		return CancelFailurePastWindow
	case apperr.KindNotFound:
		return CancelFailureNotFound
	case apperr.KindTransient:
		return CancelFailureTransient
	}
	return CancelFailureOther
}

// CancelPath returns which cancellation is offered for an order of a
// customer view. An order with a pending request offers nothing more.
func (v *View) CancelPath(ctx context.Context, orderID int64) (lifecycle.CancelPath, error) {
	path := lifecycle.CancelNone
	err := v.do(ctx, func() { path = v.cancelPath(orderID) })
	return path, err
}

func (v *View) cancelPath(orderID int64) lifecycle.CancelPath {
	if v.cfg.Role != model.RoleCustomer {
		return lifecycle.CancelNone
	}
	o, _, ok := v.store.Lookup(orderID)
	if !ok {
		return lifecycle.CancelNone
	}
	path := lifecycle.PathFor(o.Status)
	if path == lifecycle.CancelByRequest {
		if r, ok := v.latest[orderID]; ok && r.Pending() {
			return lifecycle.CancelNone
		}
	}
	return path
}

// SelfCancel cancels an order directly. Nothing changes locally until the
// backend confirms; the canceled order then leaves the active list.
func (v *View) SelfCancel(ctx context.Context, orderID int64, reason string) (model.Order, error) {
	if v.cfg.Role != model.RoleCustomer {
		return model.Order{}, apperr.New(apperr.CodeForbidden, "only customers cancel orders")
	}
	var gate error
	if err := v.do(ctx, func() {
		if o, _, ok := v.store.Lookup(orderID); ok && !lifecycle.SelfCancelable(o.Status) {
			gate = apperr.New(apperr.CodeCannotCancel, "order is past the self-service window")
		}
	}); err != nil {
		return model.Order{}, err
	}
	if gate != nil {
		return model.Order{}, gate
	}

	o, err := v.backend.CancelOrder(ctx, orderID, reason)
	if err != nil {
		v.afterFailure(ctx, orderID, err, false)
		return model.Order{}, err
	}
	if err := v.do(ctx, func() { v.put(o) }); err != nil {
		return o, err
	}
	return o, nil
}

// RequestCancel files a cancellation request for an order past the
// self-service window.
func (v *View) RequestCancel(ctx context.Context, orderID int64, reason string) (model.CancellationRequest, error) {
	if v.cfg.Role != model.RoleCustomer {
		return model.CancellationRequest{}, apperr.New(apperr.CodeForbidden, "only customers request cancellation")
	}
	var gate error
	if err := v.do(ctx, func() {
		o, _, ok := v.store.Lookup(orderID)
		if !ok {
			return
		}
		switch lifecycle.PathFor(o.Status) {
		case lifecycle.CancelSelfService:
			gate = apperr.New(apperr.CodeBadRequest, "order can still be canceled directly")
		case lifecycle.CancelNone:
			gate = apperr.New(apperr.CodeCannotCancel, "order can no longer be canceled")
		}
	}); err != nil {
		return model.CancellationRequest{}, err
	}
	if gate != nil {
		return model.CancellationRequest{}, gate
	}

	r, err := v.backend.CreateCancellationRequest(ctx, orderID, reason)
	if err != nil {
		v.afterFailure(ctx, orderID, err, false)
		return model.CancellationRequest{}, err
	}
	if err := v.do(ctx, func() { v.keepLatest(r) }); err != nil {
		return r, err
	}
	return r, nil
}

// CancelRequest returns the latest cancellation request a customer filed for
// an order, so a rejection reason stays visible.
func (v *View) CancelRequest(ctx context.Context, orderID int64) (model.CancellationRequest, bool, error) {
	var (
		r     model.CancellationRequest
		found bool
	)
	err := v.do(ctx, func() { r, found = v.latest[orderID] })
	return r, found, err
}

func (v *View) keepLatest(r model.CancellationRequest) {
	if cur, ok := v.latest[r.OrderID]; ok && cur.ID > r.ID {
		return
	}
	v.latest[r.OrderID] = r
	v.notify(Change{Kind: ChangeRequests, OrderID: r.OrderID})
}
