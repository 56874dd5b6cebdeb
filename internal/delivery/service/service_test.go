package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/policy"
	"foodflow/internal/delivery/repo"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

type published struct {
	topics []model.Topic
	ev     model.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, topics []model.Topic, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topics: topics, ev: ev})
	return p.err
}

func (p *recordingPublisher) ofType(typ model.EventType) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.ev.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type stubLocator struct {
	calls int
	lat   float64
	lng   float64
}

func (l *stubLocator) SafeUpdateShipper(ctx context.Context, shipperID int64, lng, lat float64) error {
	l.calls++
	l.lat, l.lng = lat, lng
	return nil
}

var (
	customer = policy.Actor{Role: model.RoleCustomer, ID: 1}
	merchant = policy.Actor{Role: model.RoleMerchant, ID: 2}
	shipperA = policy.Actor{Role: model.RoleShipper, ID: 3}
	shipperB = policy.Actor{Role: model.RoleShipper, ID: 4}
)

func newService(t *testing.T) (*Service, *recordingPublisher, *stubLocator) {
	t.Helper()
	mem := repo.NewMemoryRepo()
	pub := &recordingPublisher{}
	loc := &stubLocator{}
	svc := New(Config{RequireRejectReason: true}, mem, mem, pub, loc, testLogger{})
	return svc, pub, loc
}

func checkout(t *testing.T, svc *Service, distanceM int) model.Order {
	t.Helper()
	o, err := svc.Checkout(context.Background(), customer.ID, CheckoutInput{
		RestaurantID:    merchant.ID,
		DeliveryAddress: "Abay 10",
		DistanceM:       distanceM,
		Items:           []model.LineItem{{ProductID: 1, Quantity: 2, UnitPrice: 15000}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return o
}

func advance(t *testing.T, svc *Service, actor policy.Actor, id int64, statuses ...lifecycle.Status) {
	t.Helper()
	for _, st := range statuses {
		if _, err := svc.UpdateStatus(context.Background(), actor, id, st, ""); err != nil {
			t.Fatalf("advance to %s: %v", st, err)
		}
	}
}

func TestCheckoutPricesDelivery(t *testing.T) {
	svc, pub, _ := newService(t)
	o := checkout(t, svc, 5000)

	if o.Status != lifecycle.StatusPending {
		t.Fatalf("expected PENDING got %s", o.Status)
	}
	if o.ShippingFee != 30000 {
		t.Fatalf("expected fee 30000 got %d", o.ShippingFee)
	}
	if o.Total != 60000 {
		t.Fatalf("expected total 60000 got %d", o.Total)
	}
	if len(o.History) != 1 {
		t.Fatalf("expected initial history entry, got %d", len(o.History))
	}
	if got := pub.ofType(model.EventStatusChanged); len(got) != 1 {
		t.Fatalf("expected one status event got %d", len(got))
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc, _, _ := newService(t)
	cases := []struct {
		name string
		in   CheckoutInput
		code string
	}{
		{"no restaurant", CheckoutInput{DeliveryAddress: "x", Items: []model.LineItem{{Quantity: 1}}}, apperr.CodeBadRequest},
		{"no address", CheckoutInput{RestaurantID: 2, Items: []model.LineItem{{Quantity: 1}}}, apperr.CodeBadRequest},
		{"no items", CheckoutInput{RestaurantID: 2, DeliveryAddress: "x"}, apperr.CodeBadRequest},
		{"bad quantity", CheckoutInput{RestaurantID: 2, DeliveryAddress: "x", Items: []model.LineItem{{Quantity: 0}}}, apperr.CodeBadRequest},
		{"too far", CheckoutInput{RestaurantID: 2, DeliveryAddress: "x", DistanceM: 16000, Items: []model.LineItem{{Quantity: 1}}}, apperr.CodeNotEligible},
	}
	for _, tc := range cases {
		_, err := svc.Checkout(context.Background(), 1, tc.in)
		if apperr.CodeOf(err) != tc.code {
			t.Fatalf("%s: expected %s got %v", tc.name, tc.code, err)
		}
	}
}

func TestClaimRaceHasOneWinner(t *testing.T) {
	svc, pub, _ := newService(t)
	o := checkout(t, svc, 2000)
	advance(t, svc, merchant, o.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []policy.Actor{shipperA, shipperB} {
		wg.Add(1)
		go func(i int, s policy.Actor) {
			defer wg.Done()
			_, errs[i] = svc.Claim(context.Background(), s.ID, o.ID)
		}(i, s)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, policy.ErrAlreadyAssigned):
		default:
			t.Fatalf("unexpected claim error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	claimed := 0
	for _, e := range pub.ofType(model.EventStatusChanged) {
		if e.ev.ShipperID != nil {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected one claim event, got %d", claimed)
	}
}

func TestClaimRejectsEarlyOrders(t *testing.T) {
	svc, _, _ := newService(t)
	o := checkout(t, svc, 0)
	if _, err := svc.Claim(context.Background(), shipperA.ID, o.ID); !errors.Is(err, policy.ErrNotReady) {
		t.Fatalf("expected not_ready got %v", err)
	}
	if _, err := svc.Claim(context.Background(), shipperA.ID, 999); !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("expected not_found got %v", err)
	}
}

func TestListOrdersByBucket(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ready := checkout(t, svc, 1000)
	advance(t, svc, merchant, ready.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady)
	cooking := checkout(t, svc, 1000)
	advance(t, svc, merchant, cooking.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking)
	taken := checkout(t, svc, 1000)
	advance(t, svc, merchant, taken.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady)
	if _, err := svc.Claim(ctx, shipperB.ID, taken.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	avail, err := svc.ListOrders(ctx, shipperA, bucket.Available, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(avail) != 2 {
		t.Fatalf("expected 2 available orders got %d", len(avail))
	}
	for _, o := range avail {
		if o.ID == taken.ID {
			t.Fatal("claimed order listed as available")
		}
	}

	delivering, _ := svc.ListOrders(ctx, shipperB, bucket.Delivering, 0, 0)
	if len(delivering) != 1 || delivering[0].ID != taken.ID {
		t.Fatalf("expected claimed order in delivering, got %+v", delivering)
	}

	inProgress, _ := svc.ListOrders(ctx, merchant, bucket.InProgress, 0, 0)
	if len(inProgress) != 1 || inProgress[0].ID != cooking.ID {
		t.Fatalf("expected cooking order in in_progress, got %+v", inProgress)
	}

	if _, err := svc.ListOrders(ctx, merchant, bucket.Available, 0, 0); apperr.CodeOf(err) != apperr.CodeBadRequest {
		t.Fatalf("expected bad_request for foreign bucket got %v", err)
	}
}

func TestCustomerListHidesCanceled(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	kept := checkout(t, svc, 0)
	gone := checkout(t, svc, 0)
	if _, err := svc.Cancel(ctx, customer.ID, gone.ID, "mistake"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	list, err := svc.ListOrders(ctx, customer, bucket.Orders, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Fatalf("expected only the active order, got %+v", list)
	}
}

func TestSelfCancelWindow(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	cases := []struct {
		path []lifecycle.Status
		ok   bool
	}{
		{nil, true},
		{[]lifecycle.Status{lifecycle.StatusConfirmed}, true},
		{[]lifecycle.Status{lifecycle.StatusConfirmed, lifecycle.StatusCooking}, false},
		{[]lifecycle.Status{lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady}, false},
	}
	for _, tc := range cases {
		o := checkout(t, svc, 0)
		advance(t, svc, merchant, o.ID, tc.path...)
		got, err := svc.Cancel(ctx, customer.ID, o.ID, "")
		if tc.ok {
			if err != nil || got.Status != lifecycle.StatusCanceled {
				t.Fatalf("after %v: expected cancel, got %v %s", tc.path, err, got.Status)
			}
			continue
		}
		if !errors.Is(err, policy.ErrCannotCancel) {
			t.Fatalf("after %v: expected cannot_cancel got %v", tc.path, err)
		}
	}
}

func TestCancelRequestRejectAndApprove(t *testing.T) {
	svc, pub, _ := newService(t)
	ctx := context.Background()
	o := checkout(t, svc, 0)
	advance(t, svc, merchant, o.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking)

	req, err := svc.CreateCancelRequest(ctx, customer.ID, o.ID, "too slow")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	queue, _ := svc.ListCancelRequests(ctx, policy.Actor{Role: model.RoleAdmin, ID: 9}, "")
	if len(queue) != 1 || queue[0].OrderStatus != lifecycle.StatusCooking {
		t.Fatalf("unexpected admin queue %+v", queue)
	}

	if _, err := svc.ResolveCancelRequest(ctx, 9, req.ID, false, ""); !errors.Is(err, policy.ErrReasonRequired) {
		t.Fatalf("expected reason_required got %v", err)
	}
	rejected, err := svc.ResolveCancelRequest(ctx, 9, req.ID, false, "already cooking")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Resolution != model.ResolutionRejected || rejected.ResolutionReason != "already cooking" {
		t.Fatalf("unexpected rejection %+v", rejected)
	}
	if _, err := svc.ResolveCancelRequest(ctx, 9, req.ID, true, ""); !errors.Is(err, policy.ErrAlreadyResolved) {
		t.Fatalf("expected already_resolved got %v", err)
	}
	got, _ := svc.GetOrder(ctx, customer, o.ID)
	if got.Status != lifecycle.StatusCooking {
		t.Fatalf("rejection changed the order to %s", got.Status)
	}

	mine, _ := svc.ListCancelRequests(ctx, customer, "")
	if len(mine) != 1 || mine[0].Resolution != model.ResolutionRejected {
		t.Fatalf("customer should see the rejected request, got %+v", mine)
	}

	second, err := svc.CreateCancelRequest(ctx, customer.ID, o.ID, "please")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if _, err := svc.ResolveCancelRequest(ctx, 9, second.ID, true, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got, _ = svc.GetOrder(ctx, customer, o.ID)
	if got.Status != lifecycle.StatusCanceled {
		t.Fatalf("approval should cancel the order, got %s", got.Status)
	}
	if n := len(pub.ofType(model.EventRequestResolved)); n != 2 {
		t.Fatalf("expected 2 resolve events got %d", n)
	}
}

func TestCancelRequestNeedsRequestWindow(t *testing.T) {
	svc, _, _ := newService(t)
	o := checkout(t, svc, 0)
	_, err := svc.CreateCancelRequest(context.Background(), customer.ID, o.ID, "")
	if apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition for self-cancelable order, got %v", err)
	}
	if _, err := svc.CreateCancelRequest(context.Background(), 77, o.ID, ""); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected forbidden for a foreign customer, got %v", err)
	}
}

func TestPublishLocationReachesActiveOrders(t *testing.T) {
	svc, pub, loc := newService(t)
	ctx := context.Background()
	o := checkout(t, svc, 0)
	advance(t, svc, merchant, o.ID, lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady)
	if _, err := svc.Claim(ctx, shipperA.ID, o.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := svc.PublishLocation(ctx, shipperA.ID, 43.25, 76.95); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if loc.calls != 1 || loc.lat != 43.25 {
		t.Fatalf("locator not updated: %+v", loc)
	}
	events := pub.ofType(model.EventLocationChanged)
	if len(events) != 1 || events[0].ev.OrderID != o.ID {
		t.Fatalf("expected one location event for order %d, got %+v", o.ID, events)
	}
	if err := svc.PublishLocation(ctx, shipperA.ID, 91, 0); apperr.CodeOf(err) != apperr.CodeBadRequest {
		t.Fatalf("expected bad_request for invalid latitude got %v", err)
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	svc, pub, _ := newService(t)
	pub.err = errors.New("broker down")
	o := checkout(t, svc, 0)
	if _, err := svc.UpdateStatus(context.Background(), merchant, o.ID, lifecycle.StatusConfirmed, ""); err != nil {
		t.Fatalf("expected status change to succeed, got %v", err)
	}
}

func TestGetOrderVisibility(t *testing.T) {
	svc, _, _ := newService(t)
	svc.SetClock(func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) })
	o := checkout(t, svc, 0)
	if _, err := svc.GetOrder(context.Background(), policy.Actor{Role: model.RoleMerchant, ID: 99}, o.ID); !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("foreign merchant should not see the order, got %v", err)
	}
	got, err := svc.GetOrder(context.Background(), merchant, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("clock not used: %v", got.CreatedAt)
	}
}
