package roleview

import (
	"context"
	"sort"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/model"
)

// PendingRequests returns the admin queue, oldest first.
func (v *View) PendingRequests(ctx context.Context) ([]model.CancellationRequest, error) {
	var out []model.CancellationRequest
	err := v.do(ctx, func() {
		out = make([]model.CancellationRequest, 0, len(v.queue))
		for _, r := range v.queue {
			out = append(out, r)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// ResolveCancelRequest approves or rejects a request. The request leaves the
// queue once the backend confirms, or when the backend reports it was
// already handled elsewhere.
func (v *View) ResolveCancelRequest(ctx context.Context, requestID int64, approve bool, reason string) (model.CancellationRequest, error) {
	if v.cfg.Role != model.RoleAdmin {
		return model.CancellationRequest{}, apperr.New(apperr.CodeForbidden, "only admins resolve requests")
	}
	r, err := v.backend.ResolveCancellationRequest(ctx, requestID, approve, reason)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict, apperr.KindNotFound:
			if derr := v.do(ctx, func() { v.dropRequest(requestID) }); derr != nil {
				v.logf("roleview: drop request %d: %v", requestID, derr)
			}
			v.resync()
		}
		return model.CancellationRequest{}, err
	}
	if err := v.do(ctx, func() { v.dropRequest(requestID) }); err != nil {
		return r, err
	}
	return r, nil
}

func (v *View) dropRequest(id int64) {
	r, ok := v.queue[id]
	if !ok {
		return
	}
	delete(v.queue, id)
	v.notify(Change{Kind: ChangeRequests, OrderID: r.OrderID})
}

// setRequests replaces request state from a fresh listing. Admins keep the
// pending queue, customers the latest request per order.
func (v *View) setRequests(list []model.CancellationRequest) {
	switch v.cfg.Role {
	case model.RoleAdmin:
		v.queue = make(map[int64]model.CancellationRequest, len(list))
		for _, r := range list {
			if r.Pending() {
				v.queue[r.ID] = r
			}
		}
	case model.RoleCustomer:
		v.latest = make(map[int64]model.CancellationRequest, len(list))
		for _, r := range list {
			if cur, ok := v.latest[r.OrderID]; ok && cur.ID > r.ID {
				continue
			}
			v.latest[r.OrderID] = r
		}
	default:
		return
	}
	v.notify(Change{Kind: ChangeRequests})
}
