package roleview

import (
	"context"
	"sync"
	"testing"
	"time"

	"foodflow/internal/delivery/backend"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/policy"
	"foodflow/internal/delivery/repo"
	"foodflow/internal/delivery/service"
)

type testLogger struct{}

func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

// bus delivers published events to in-process subscribers by topic.
type bus struct {
	mu   sync.Mutex
	subs []*busSub
}

type busSub struct {
	mu     sync.Mutex
	topics map[model.Topic]struct{}
	events chan model.Event
}

func (b *bus) subscriber() *busSub {
	s := &busSub{topics: make(map[model.Topic]struct{}), events: make(chan model.Event, 256)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

func (b *bus) Publish(ctx context.Context, topics []model.Topic, ev model.Event) error {
	b.mu.Lock()
	subs := append([]*busSub(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		if s.wants(topics) {
			select {
			case s.events <- ev:
			default:
			}
		}
	}
	return nil
}

func (s *busSub) wants(topics []model.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

func (s *busSub) Subscribe(topic model.Topic) error {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *busSub) Unsubscribe(topic model.Topic) error {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
	return nil
}

func (s *busSub) Events() <-chan model.Event { return s.events }

// svcBackend calls the order service in process on behalf of one actor.
type svcBackend struct {
	svc   *service.Service
	actor policy.Actor
}

func (b *svcBackend) FetchOrders(ctx context.Context, role model.Role, bk bucket.ID) ([]model.Order, error) {
	return b.svc.ListOrders(ctx, b.actor, bk, 0, 0)
}

func (b *svcBackend) UpdateOrderStatus(ctx context.Context, id int64, next lifecycle.Status, reason string) (model.Order, error) {
	return b.svc.UpdateStatus(ctx, b.actor, id, next, reason)
}

func (b *svcBackend) ClaimOrder(ctx context.Context, id int64) (model.Order, error) {
	return b.svc.Claim(ctx, b.actor.ID, id)
}

func (b *svcBackend) CancelOrder(ctx context.Context, id int64, reason string) (model.Order, error) {
	return b.svc.Cancel(ctx, b.actor.ID, id, reason)
}

func (b *svcBackend) CreateCancellationRequest(ctx context.Context, id int64, reason string) (model.CancellationRequest, error) {
	return b.svc.CreateCancelRequest(ctx, b.actor.ID, id, reason)
}

func (b *svcBackend) ListCancellationRequests(ctx context.Context) ([]model.CancellationRequest, error) {
	return b.svc.ListCancelRequests(ctx, b.actor, "")
}

func (b *svcBackend) ResolveCancellationRequest(ctx context.Context, id int64, approve bool, reason string) (model.CancellationRequest, error) {
	return b.svc.ResolveCancelRequest(ctx, b.actor.ID, id, approve, reason)
}

func (b *svcBackend) PublishLocation(ctx context.Context, lat, lng float64) error {
	return b.svc.PublishLocation(ctx, b.actor.ID, lat, lng)
}

func (b *svcBackend) Quote(ctx context.Context, distanceM int) (backend.Quote, error) {
	fee, ok := b.svc.Quote(distanceM)
	return backend.Quote{DistanceM: distanceM, Fee: fee, Offerable: ok}, nil
}

type harness struct {
	svc *service.Service
	bus *bus
}

func newHarness() *harness {
	mem := repo.NewMemoryRepo()
	b := &bus{}
	return &harness{
		svc: service.New(service.Config{RequireRejectReason: true}, mem, mem, b, nil, testLogger{}),
		bus: b,
	}
}

// view starts a role-view wired to the service and loads it.
func (h *harness) view(t *testing.T, role model.Role, id int64) *View {
	t.Helper()
	v, err := New(Config{Role: role, ActorID: id}, &svcBackend{svc: h.svc, actor: policy.Actor{Role: role, ID: id}}, h.bus.subscriber(), testLogger{})
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go v.Run(ctx)
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("refresh %s view: %v", role, err)
	}
	return v
}

func (h *harness) place(t *testing.T) model.Order {
	t.Helper()
	o, err := h.svc.Checkout(context.Background(), 1, service.CheckoutInput{
		RestaurantID:    2,
		DeliveryAddress: "Abay 10",
		DistanceM:       3000,
		Items:           []model.LineItem{{ProductID: 7, Quantity: 2, UnitPrice: 15000}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return o
}

func (h *harness) advance(t *testing.T, actor policy.Actor, id int64, steps ...lifecycle.Status) {
	t.Helper()
	for _, st := range steps {
		if _, err := h.svc.UpdateStatus(context.Background(), actor, id, st, ""); err != nil {
			t.Fatalf("advance %d to %s: %v", id, st, err)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func bucketOf(t *testing.T, v *View, orderID int64) bucket.ID {
	t.Helper()
	_, b, _, err := v.Order(context.Background(), orderID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return b
}

func ids(orders []model.Order) []int64 {
	out := make([]int64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}
