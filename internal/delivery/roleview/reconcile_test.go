package roleview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/backend"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// stubBackend serves fixed bucket listings and scripted action results.
type stubBackend struct {
	mu      sync.Mutex
	orders  map[bucket.ID][]model.Order
	fetched []bucket.ID

	// holdBucket parks the next fetch of that bucket after it has read
	// the listing, until fetchRelease is closed.
	holdBucket   bucket.ID
	fetchEntered chan struct{}
	fetchRelease chan struct{}

	updateErr    error
	updateResult model.Order

	claimCalls   int
	claimEntered chan struct{}
	claimRelease chan struct{}
	claimResult  model.Order
	claimErr     error
}

func newStub() *stubBackend {
	return &stubBackend{orders: make(map[bucket.ID][]model.Order)}
}

func (s *stubBackend) set(b bucket.ID, orders ...model.Order) {
	s.mu.Lock()
	s.orders[b] = orders
	s.mu.Unlock()
}

func (s *stubBackend) fetches(b bucket.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.fetched {
		if f == b {
			n++
		}
	}
	return n
}

func (s *stubBackend) FetchOrders(ctx context.Context, role model.Role, b bucket.ID) ([]model.Order, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, b)
	out := make([]model.Order, len(s.orders[b]))
	copy(out, s.orders[b])
	var entered, release chan struct{}
	if b == s.holdBucket && s.fetchEntered != nil {
		entered, release = s.fetchEntered, s.fetchRelease
		s.fetchEntered = nil
	}
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return out, nil
}

func (s *stubBackend) hold(b bucket.ID) (entered, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdBucket = b
	s.fetchEntered = make(chan struct{}, 1)
	s.fetchRelease = make(chan struct{})
	return s.fetchEntered, s.fetchRelease
}

func (s *stubBackend) UpdateOrderStatus(ctx context.Context, id int64, next lifecycle.Status, reason string) (model.Order, error) {
	return s.updateResult, s.updateErr
}

func (s *stubBackend) ClaimOrder(ctx context.Context, id int64) (model.Order, error) {
	s.mu.Lock()
	s.claimCalls++
	s.mu.Unlock()
	if s.claimEntered != nil {
		s.claimEntered <- struct{}{}
		<-s.claimRelease
	}
	return s.claimResult, s.claimErr
}

func (s *stubBackend) CancelOrder(ctx context.Context, id int64, reason string) (model.Order, error) {
	return model.Order{}, apperr.New(apperr.CodeNotFound, "order not found")
}

func (s *stubBackend) CreateCancellationRequest(ctx context.Context, id int64, reason string) (model.CancellationRequest, error) {
	return model.CancellationRequest{}, errors.New("not scripted")
}

func (s *stubBackend) ListCancellationRequests(ctx context.Context) ([]model.CancellationRequest, error) {
	return nil, nil
}

func (s *stubBackend) ResolveCancellationRequest(ctx context.Context, id int64, approve bool, reason string) (model.CancellationRequest, error) {
	return model.CancellationRequest{}, errors.New("not scripted")
}

func (s *stubBackend) PublishLocation(ctx context.Context, lat, lng float64) error { return nil }

func (s *stubBackend) Quote(ctx context.Context, distanceM int) (backend.Quote, error) {
	return backend.Quote{}, nil
}

func startStubView(t *testing.T, cfg Config, b backend.Backend) *View {
	t.Helper()
	v, err := New(cfg, b, nil, testLogger{})
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go v.Run(ctx)
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return v
}

func order(id int64, st lifecycle.Status, shipper *int64) model.Order {
	return model.Order{ID: id, Status: st, CustomerID: 1, RestaurantID: 2, ShipperID: shipper, CreatedAt: time.Unix(id, 0)}
}

func statusEvent(id int64, st lifecycle.Status, shipper *int64) model.Event {
	return model.Event{ID: "ev", Type: model.EventStatusChanged, OrderID: id, Status: st, ShipperID: shipper, At: time.Now()}
}

func apply(t *testing.T, v *View, evs ...model.Event) {
	t.Helper()
	if err := v.do(context.Background(), func() {
		for _, ev := range evs {
			v.reconcile(ev)
		}
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestStatusEventIsIdempotent(t *testing.T) {
	stub := newStub()
	stub.set(bucket.New, order(1, lifecycle.StatusConfirmed, nil))
	v := startStubView(t, Config{Role: model.RoleMerchant, ActorID: 2}, stub)

	var moves int
	_ = v.OnChange(context.Background(), func(c Change) {
		if c.Kind == ChangeOrder {
			moves++
		}
	})
	ev := statusEvent(1, lifecycle.StatusCooking, nil)
	apply(t, v, ev)
	first, _ := v.Snapshot(context.Background())
	apply(t, v, ev)
	second, _ := v.Snapshot(context.Background())

	if moves != 1 {
		t.Fatalf("second application should be a no-op, got %d moves", moves)
	}
	if got := ids(second.Bucket(bucket.InProgress)); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected order in in_progress, got %+v", second.Orders)
	}
	if len(first.Bucket(bucket.New)) != 0 || len(second.Bucket(bucket.New)) != 0 {
		t.Fatalf("order should have left new")
	}
}

func TestStaleEventsAreIgnored(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Delivering, order(1, lifecycle.StatusShipping, model.Int64Ptr(3)))
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)

	apply(t, v,
		statusEvent(1, lifecycle.StatusReady, nil),
		statusEvent(1, lifecycle.StatusReady, model.Int64Ptr(3)),
	)
	got, b, ok, _ := v.Order(context.Background(), 1)
	if !ok || b != bucket.Delivering || got.Status != lifecycle.StatusShipping || !got.AssignedTo(3) {
		t.Fatalf("older events must not win: %s %s %+v", b, got.Status, got.ShipperID)
	}
}

func TestAssignedOrdersNeverAvailable(t *testing.T) {
	stub := newStub()
	// A backend that still lists claimed orders as available.
	stub.set(bucket.Available,
		order(1, lifecycle.StatusReady, nil),
		order(2, lifecycle.StatusReady, model.Int64Ptr(9)),
		order(3, lifecycle.StatusCooking, model.Int64Ptr(3)),
	)
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)

	snap, _ := v.Snapshot(context.Background())
	if got := ids(snap.Bucket(bucket.Available)); len(got) != 1 || got[0] != 1 {
		t.Fatalf("available should only hold the unassigned order, got %v", got)
	}
	if got := ids(snap.Bucket(bucket.Delivering)); len(got) != 1 || got[0] != 3 {
		t.Fatalf("own claimed order belongs in delivering, got %v", got)
	}

	apply(t, v, statusEvent(1, lifecycle.StatusReady, model.Int64Ptr(9)))
	if _, b, ok, _ := v.Order(context.Background(), 1); ok {
		t.Fatalf("order claimed by another shipper should vanish, found in %s", b)
	}
}

func TestUnknownOrderTriggersBucketRefetch(t *testing.T) {
	stub := newStub()
	v := startStubView(t, Config{Role: model.RoleMerchant, ActorID: 2}, stub)
	before := stub.fetches(bucket.New)

	stub.set(bucket.New, order(5, lifecycle.StatusConfirmed, nil))
	apply(t, v, statusEvent(5, lifecycle.StatusConfirmed, nil))
	eventually(t, "refetched order", func() bool { return bucketOf(t, v, 5) == bucket.New })
	if stub.fetches(bucket.New) != before+1 {
		t.Fatalf("expected one refetch of new, got %d", stub.fetches(bucket.New)-before)
	}
	if stub.fetches(bucket.Ready) != 1 {
		t.Fatalf("unrelated buckets should not be refetched")
	}
}

func TestUnknownStatusTokenIsKeptForCustomers(t *testing.T) {
	stub := newStub()
	odd := order(4, lifecycle.StatusUnknown, nil)
	odd.StatusText = "awaiting_payment"
	stub.set(bucket.Orders, odd)
	v := startStubView(t, Config{Role: model.RoleCustomer, ActorID: 1}, stub)

	got, b, ok, _ := v.Order(context.Background(), 4)
	if !ok || b != bucket.Orders || got.Label() != "awaiting_payment" {
		t.Fatalf("unknown token should be listed as-is: %v %s %q", ok, b, got.Label())
	}
	if path, _ := v.CancelPath(context.Background(), 4); path != lifecycle.CancelNone {
		t.Fatalf("unknown status must not offer cancellation, got %s", path)
	}
}

func TestLocationThrottleWithContentBypass(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Orders, order(1, lifecycle.StatusShipping, model.Int64Ptr(3)))
	now := time.Unix(1000, 0)
	v := startStubView(t, Config{
		Role:                    model.RoleCustomer,
		ActorID:                 1,
		LocationRefreshInterval: 3 * time.Second,
		Now:                     func() time.Time { return now },
	}, stub)

	loc := func(lat, lng float64) model.Event {
		return model.Event{Type: model.EventLocationChanged, OrderID: 1, Lat: lat, Lng: lng}
	}
	position := func() model.Position {
		o, _, _, _ := v.Order(context.Background(), 1)
		if o.Position == nil {
			return model.Position{}
		}
		return *o.Position
	}

	apply(t, v, loc(43.2, 76.9))
	first := position()
	now = now.Add(time.Second)
	apply(t, v, loc(43.2, 76.9))
	if v.Stats().ThrottledLocation != 1 || position() != first {
		t.Fatalf("identical position within the interval should be throttled")
	}
	apply(t, v, loc(43.3, 76.9))
	if position().Lat != 43.3 {
		t.Fatalf("changed position should bypass the throttle, got %+v", position())
	}
	now = now.Add(5 * time.Second)
	apply(t, v, loc(43.3, 76.9))
	if v.Stats().ThrottledLocation != 1 || !position().At.Equal(now) {
		t.Fatalf("identical position after the interval should refresh, got %+v", position())
	}
}

func TestAdvanceRollsBackOnFailure(t *testing.T) {
	stub := newStub()
	stub.set(bucket.New, order(1, lifecycle.StatusConfirmed, nil))
	stub.updateErr = apperr.Wrap(apperr.KindTransient, apperr.CodeUnavailable, errors.New("connection reset"))
	v := startStubView(t, Config{Role: model.RoleMerchant, ActorID: 2}, stub)

	var seen []bucket.ID
	_ = v.OnChange(context.Background(), func(c Change) {
		if c.Kind == ChangeOrder {
			seen = append(seen, c.To)
		}
	})
	_, err := v.AdvanceStatus(context.Background(), 1, lifecycle.StatusCooking, "")
	if !apperr.Retryable(err) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
	if len(seen) == 0 || seen[0] != bucket.InProgress {
		t.Fatalf("change should have been shown optimistically, got %v", seen)
	}
	got, b, ok, _ := v.Order(context.Background(), 1)
	if !ok || b != bucket.New || got.Status != lifecycle.StatusConfirmed {
		t.Fatalf("failure should roll back to new/CONFIRMED, got %s %s", b, got.Status)
	}
}

func TestAdvanceNotFoundDropsOrder(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Ready, order(1, lifecycle.StatusReady, nil))
	stub.updateErr = apperr.New(apperr.CodeNotFound, "order not found")
	v := startStubView(t, Config{Role: model.RoleMerchant, ActorID: 2}, stub)

	_, err := v.AdvanceStatus(context.Background(), 1, lifecycle.StatusCanceled, "")
	if !Silent(err) {
		t.Fatalf("not found should be silent, got %v", err)
	}
	if _, b, ok, _ := v.Order(context.Background(), 1); ok {
		t.Fatalf("vanished order should be dropped, found in %s", b)
	}
}

func TestDuplicateClaimTapsShareOneRequest(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Available, order(1, lifecycle.StatusReady, nil))
	stub.claimEntered = make(chan struct{}, 1)
	stub.claimRelease = make(chan struct{})
	stub.claimResult = order(1, lifecycle.StatusReady, model.Int64Ptr(3))
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)

	results := make(chan ClaimResult, 2)
	go func() { results <- v.Claim(context.Background(), 1) }()
	<-stub.claimEntered
	go func() { results <- v.Claim(context.Background(), 1) }()
	time.Sleep(50 * time.Millisecond)
	close(stub.claimRelease)

	a, b := <-results, <-results
	if a.Outcome != ClaimAccepted || b.Outcome != ClaimAccepted {
		t.Fatalf("both taps should see the accepted claim, got %s and %s", a.Outcome, b.Outcome)
	}
	if stub.claimCalls != 1 || !(a.Shared || b.Shared) {
		t.Fatalf("expected one backend call shared by both taps, got %d calls", stub.claimCalls)
	}
	if got := bucketOf(t, v, 1); got != bucket.Delivering {
		t.Fatalf("claimed order should be delivering, got %s", got)
	}
}

func TestClaimNotReadyLeavesOrderAvailable(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Available, order(1, lifecycle.StatusCooking, nil))
	stub.claimErr = apperr.New(apperr.CodeNotReady, "order is not ready")
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)
	before := stub.fetches(bucket.Available)

	res := v.Claim(context.Background(), 1)
	if res.Outcome != ClaimNotEligible || res.Message == "" || res.Retryable() {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := bucketOf(t, v, 1); got != bucket.Available {
		t.Fatalf("order should stay available, got %s", got)
	}
	if stub.fetches(bucket.Available) != before+1 {
		t.Fatalf("available should be refetched once")
	}
}

func TestClassifyClaim(t *testing.T) {
	cases := []struct {
		err  error
		want ClaimOutcome
	}{
		{apperr.New(apperr.CodeAlreadyAssigned, ""), ClaimConflict},
		{apperr.New(apperr.CodeConflict, ""), ClaimConflict},
		{apperr.New(apperr.CodeNotReady, ""), ClaimNotEligible},
		{apperr.New(apperr.CodeNotEligible, ""), ClaimNotEligible},
		{apperr.New(apperr.CodeForbidden, ""), ClaimNotEligible},
		{apperr.New(apperr.CodeNotFound, ""), ClaimNotFound},
		{context.DeadlineExceeded, ClaimFailed},
		{errors.New("boom"), ClaimFailed},
	}
	for _, tc := range cases {
		if got := classifyClaim(tc.err); got != tc.want {
			t.Fatalf("%v: expected %s got %s", tc.err, tc.want, got)
		}
	}
}

func TestClassifyCancelError(t *testing.T) {
	cases := []struct {
		err  error
		want CancelFailure
	}{
		{nil, CancelFailureNone},
		{apperr.New(apperr.CodeCannotCancel, ""), CancelFailurePastWindow},
		{apperr.New(apperr.CodeInvalidTransition, ""), CancelFailurePastWindow},
		{apperr.New(apperr.CodeNotFound, ""), CancelFailureNotFound},
		{apperr.Wrap(apperr.KindTransient, apperr.CodeUnavailable, errors.New("timeout")), CancelFailureTransient},
		{apperr.New(apperr.CodeForbidden, ""), CancelFailureOther},
	}
	for _, tc := range cases {
		if got := ClassifyCancelError(tc.err); got != tc.want {
			t.Fatalf("%v: expected %s got %s", tc.err, tc.want, got)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Role: "cook"}, newStub(), nil, nil); err == nil {
		t.Fatalf("unknown role should fail")
	}
	if _, err := New(Config{Role: model.RoleShipper}, nil, nil, nil); err == nil {
		t.Fatalf("missing backend should fail")
	}
	v, _ := New(Config{Role: model.RoleShipper}, newStub(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = v.Run(ctx); close(done) }()
	cancel()
	<-done
	if err := v.Run(context.Background()); err != ErrRunning {
		t.Fatalf("second run should fail with ErrRunning, got %v", err)
	}
	if _, err := v.Snapshot(context.Background()); err != ErrStopped {
		t.Fatalf("stopped view should report ErrStopped, got %v", err)
	}
}

func TestLostClaimIgnoresListingReadBeforeTheRace(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Available, order(1, lifecycle.StatusReady, nil))
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)

	// A background refresh reads available while order 1 is still open.
	entered, release := stub.hold(bucket.Available)
	refreshed := make(chan error, 1)
	go func() { refreshed <- v.Refresh(context.Background()) }()
	<-entered

	// Another shipper wins in the meantime.
	stub.set(bucket.Available)
	stub.claimErr = apperr.New(apperr.CodeAlreadyAssigned, "order already taken")
	before := stub.fetches(bucket.Available)

	claimed := make(chan ClaimResult, 1)
	go func() { claimed <- v.Claim(context.Background(), 1) }()
	var res ClaimResult
	select {
	case res = <-claimed:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatalf("claim waited for a listing fetched before it")
	}
	if res.Outcome != ClaimConflict {
		t.Fatalf("expected conflict, got %s", res.Outcome)
	}
	if stub.fetches(bucket.Available) != before+1 {
		t.Fatalf("the lost claim should fetch available on its own")
	}

	close(release)
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := bucketOf(t, v, 1); got != bucket.Excluded {
		t.Fatalf("taken order must leave available, got %s", got)
	}
}

func TestOlderPushAfterOptimisticAdvanceIsIgnored(t *testing.T) {
	stub := newStub()
	stub.set(bucket.InProgress, order(1, lifecycle.StatusCooking, nil))
	stub.updateResult = order(1, lifecycle.StatusReady, nil)
	v := startStubView(t, Config{Role: model.RoleMerchant, ActorID: 2}, stub)

	if _, err := v.AdvanceStatus(context.Background(), 1, lifecycle.StatusReady, ""); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// The push for the earlier COOKING write arrives late.
	apply(t, v, statusEvent(1, lifecycle.StatusCooking, nil))

	if got := bucketOf(t, v, 1); got != bucket.Ready {
		t.Fatalf("lifecycle must not move back, got %s", got)
	}
	apply(t, v, statusEvent(1, lifecycle.StatusDelivered, nil))
	if got := bucketOf(t, v, 1); got != bucket.Completed {
		t.Fatalf("newer status should still apply, got %s", got)
	}
}

func TestSharedClaimSurvivesFirstCallerGivingUp(t *testing.T) {
	stub := newStub()
	stub.set(bucket.Available, order(1, lifecycle.StatusReady, nil))
	stub.claimEntered = make(chan struct{}, 1)
	stub.claimRelease = make(chan struct{})
	stub.claimResult = order(1, lifecycle.StatusReady, model.Int64Ptr(3))
	v := startStubView(t, Config{Role: model.RoleShipper, ActorID: 3}, stub)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan ClaimResult, 1)
	go func() { first <- v.Claim(ctx, 1) }()
	<-stub.claimEntered

	second := make(chan ClaimResult, 1)
	go func() { second <- v.Claim(context.Background(), 1) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	if res := <-first; res.Outcome != ClaimFailed || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("abandoned tap should fail with its own cancellation, got %+v", res)
	}
	close(stub.claimRelease)
	if res := <-second; res.Outcome != ClaimAccepted || !res.Shared {
		t.Fatalf("joined tap should get the shared acceptance, got %+v", res)
	}
	if got := bucketOf(t, v, 1); got != bucket.Delivering {
		t.Fatalf("claimed order should be delivering, got %s", got)
	}
}
