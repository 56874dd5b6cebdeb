package roleview

import (
	"context"
	"strconv"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/model"
)

// ClaimOutcome is the result class of a claim attempt.
type ClaimOutcome int

// Claim outcomes. Losing the race to another shipper is ClaimConflict and is
// an expected result rather than a failure.
const (
	ClaimAccepted ClaimOutcome = iota
	ClaimConflict
	ClaimNotFound
	ClaimNotEligible
	ClaimFailed
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimAccepted:
		return "accepted"
	case ClaimConflict:
		return "conflict"
	case ClaimNotFound:
		return "not_found"
	case ClaimNotEligible:
		return "not_eligible"
	}
	return "failed"
}

// ClaimResult reports how a claim ended. Message is meant for the user; Err
// carries the backend error for every outcome but ClaimAccepted.
type ClaimResult struct {
	Outcome ClaimOutcome
	Order   model.Order
	Message string
	Err     error
	// Shared is set when the call joined a claim already in flight for the
	// same order.
	Shared bool
}

// Retryable reports whether offering a manual retry makes sense.
func (r ClaimResult) Retryable() bool {
	return r.Outcome == ClaimFailed && apperr.Retryable(r.Err)
}

// Claim asks the backend to assign the order to this shipper. Nothing is
// applied locally before the backend confirms. Concurrent calls for the same
// order share one request.
func (v *View) Claim(ctx context.Context, orderID int64) ClaimResult {
	if v.cfg.Role != model.RoleShipper {
		err := apperr.New(apperr.CodeForbidden, "only shippers claim orders")
		return ClaimResult{Outcome: ClaimNotEligible, Message: apperr.UserMessage(err), Err: err}
	}
	// The shared call outlives any single tap, so it runs on the view's
	// context. A caller that gives up still gets its own result.
	ch := v.claims.DoChan(strconv.FormatInt(orderID, 10), func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(v.base, claimTimeout)
		defer cancel()
		return v.claim(cctx, orderID), nil
	})
	select {
	case r := <-ch:
		out := r.Val.(ClaimResult)
		out.Shared = r.Shared
		return out
	case <-ctx.Done():
		err := ctx.Err()
		return ClaimResult{Outcome: ClaimFailed, Message: apperr.UserMessage(err), Err: err}
	}
}

func (v *View) claim(ctx context.Context, orderID int64) ClaimResult {
	o, err := v.backend.ClaimOrder(ctx, orderID)
	if err == nil {
		if derr := v.do(ctx, func() { v.put(o) }); derr != nil {
			v.logf("roleview: apply claim of order %d: %v", orderID, derr)
		}
		return ClaimResult{Outcome: ClaimAccepted, Order: o}
	}

	res := ClaimResult{Outcome: classifyClaim(err), Message: apperr.UserMessage(err), Err: err}
	switch res.Outcome {
	case ClaimConflict:
		v.resync()
	case ClaimNotEligible, ClaimNotFound:
		v.resync(bucket.Available)
	default:
		v.logf("roleview: claim order %d failed: %v", orderID, err)
	}
	return res
}

func classifyClaim(err error) ClaimOutcome {
	switch apperr.CodeOf(err) {
	case apperr.CodeAlreadyAssigned:
		return ClaimConflict
	case apperr.CodeNotReady, apperr.CodeNotEligible:
		return ClaimNotEligible
	}
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return ClaimConflict
	case apperr.KindInvalidTransition, apperr.KindForbidden:
		return ClaimNotEligible
	case apperr.KindNotFound:
		return ClaimNotFound
	}
	return ClaimFailed
}
