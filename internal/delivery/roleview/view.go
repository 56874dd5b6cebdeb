package roleview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"foodflow/internal/delivery/backend"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/store"
)

const (
	defaultInboxSize = 64
	resyncTimeout    = 10 * time.Second
	claimTimeout     = 10 * time.Second

	requestsKey = "requests"
)

var (
	// ErrStopped is returned by calls made after Run returned.
	ErrStopped = errors.New("role view stopped")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("role view already running")
)

// Logger provides minimal logging for role views.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Config selects whose view is kept and how it behaves.
type Config struct {
	Role    model.Role
	ActorID int64
	// LocationRefreshInterval is the minimum time between two applications
	// of an identical shipper position. Changed positions apply at once.
	LocationRefreshInterval time.Duration
	InboxSize               int
	Now                     func() time.Time
}

// ChangeKind tells listeners what happened.
type ChangeKind int

// Change kinds.
const (
	ChangeOrder ChangeKind = iota
	ChangeLocation
	ChangeReload
	ChangeRequests
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeOrder:
		return "order"
	case ChangeLocation:
		return "location"
	case ChangeReload:
		return "reload"
	case ChangeRequests:
		return "requests"
	}
	return "unknown"
}

// Change describes one applied mutation. For ChangeOrder, To is Excluded
// when the order left the view and From is Excluded when it entered it.
type Change struct {
	Kind    ChangeKind
	OrderID int64
	From    bucket.ID
	To      bucket.ID
	Order   model.Order
}

// View keeps the bucket partition of one role and actor consistent with the
// backend. All state is owned by the goroutine running Run; every other
// method posts work to it and waits.
type View struct {
	cfg     Config
	backend backend.Backend
	push    backend.Subscriber
	logger  Logger
	buckets []bucket.ID

	store     *store.Store
	queue     map[int64]model.CancellationRequest
	latest    map[int64]model.CancellationRequest
	locations map[int64]locationMark
	listeners []func(Change)

	inbox   chan func()
	stopped chan struct{}
	base    context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	fetches singleflight.Group
	claims  singleflight.Group
	// epochs counts invalidations per fetch key. A reload only applies the
	// results of keys that were not invalidated after it started.
	epochs map[string]*atomic.Int64

	throttled atomic.Int64
	reloads   atomic.Int64
}

type locationMark struct {
	lat, lng float64
	at       time.Time
}

// New creates a view. push may be nil, in which case the view only changes
// through its own actions and Refresh.
func New(cfg Config, b backend.Backend, push backend.Subscriber, logger Logger) (*View, error) {
	if !cfg.Role.Valid() {
		return nil, fmt.Errorf("roleview: invalid role %q", cfg.Role)
	}
	if b == nil {
		return nil, errors.New("roleview: backend is required")
	}
	if cfg.LocationRefreshInterval < 0 {
		return nil, errors.New("roleview: location refresh interval must not be negative")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	buckets := bucket.Buckets(cfg.Role)
	epochs := map[string]*atomic.Int64{requestsKey: atomic.NewInt64(0)}
	for _, b := range buckets {
		epochs[bucketKey(b)] = atomic.NewInt64(0)
	}
	return &View{
		cfg:       cfg,
		backend:   b,
		push:      push,
		logger:    logger,
		buckets:   buckets,
		store:     store.New(cfg.Role),
		queue:     make(map[int64]model.CancellationRequest),
		latest:    make(map[int64]model.CancellationRequest),
		locations: make(map[int64]locationMark),
		inbox:     make(chan func(), cfg.InboxSize),
		stopped:   make(chan struct{}),
		base:      base,
		cancel:    cancel,
		epochs:    epochs,
	}, nil
}

// Role returns the role of the view.
func (v *View) Role() model.Role { return v.cfg.Role }

// ActorID returns the actor the view belongs to.
func (v *View) ActorID() int64 { return v.cfg.ActorID }

// Run subscribes to the role's default topics and processes queued work and
// push events one at a time until ctx is done.
func (v *View) Run(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		v.cancel()
		close(v.stopped)
	}()

	var events <-chan model.Event
	if v.push != nil {
		for _, topic := range model.DefaultTopics(v.cfg.Role, v.cfg.ActorID) {
			if err := v.push.Subscribe(topic); err != nil {
				v.logf("roleview: subscribe %s failed: %v", topic, err)
			}
		}
		events = v.push.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-v.inbox:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			v.reconcile(ev)
		}
	}
}

// Subscribe adds a push topic, for example one order the caller wants to
// follow closely. Subscribing twice has no additional effect.
func (v *View) Subscribe(topic model.Topic) error {
	if v.push == nil {
		return nil
	}
	return v.push.Subscribe(topic)
}

// OnChange registers fn to be called after every applied mutation. fn runs
// on the view goroutine and must not call blocking View methods.
func (v *View) OnChange(ctx context.Context, fn func(Change)) error {
	return v.do(ctx, func() { v.listeners = append(v.listeners, fn) })
}

// Snapshot copies the current bucket partition.
func (v *View) Snapshot(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot
	err := v.do(ctx, func() { snap = v.store.Snapshot() })
	return snap, err
}

// Order returns a locally known order and its bucket.
func (v *View) Order(ctx context.Context, orderID int64) (model.Order, bucket.ID, bool, error) {
	var (
		o     model.Order
		b     bucket.ID
		found bool
	)
	err := v.do(ctx, func() { o, b, found = v.store.Lookup(orderID) })
	return o, b, found, err
}

// Stats reports counters useful for diagnostics.
type Stats struct {
	Reloads           int64
	ThrottledLocation int64
}

// Stats returns diagnostic counters.
func (v *View) Stats() Stats {
	return Stats{Reloads: v.reloads.Load(), ThrottledLocation: v.throttled.Load()}
}

// Refresh reloads every bucket of the view, and the cancellation requests
// for customers and admins. Buckets are fetched in parallel.
func (v *View) Refresh(ctx context.Context) error {
	return v.reload(ctx, true, v.buckets...)
}

func (v *View) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case v.inbox <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-v.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.stopped:
		return ErrStopped
	}
}

func (v *View) tracksRequests() bool {
	return v.cfg.Role == model.RoleAdmin || v.cfg.Role == model.RoleCustomer
}

// reload fetches buckets (and requests when withRequests is set) and applies
// the results in one step.
func (v *View) reload(ctx context.Context, withRequests bool, buckets ...bucket.ID) error {
	v.reloads.Inc()
	withRequests = withRequests && v.tracksRequests()
	started := make([]int64, len(buckets))
	for i, b := range buckets {
		started[i] = v.epoch(bucketKey(b))
	}
	startedRequests := v.epoch(requestsKey)

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]model.Order, len(buckets))
	for i, b := range buckets {
		i, b := i, b
		g.Go(func() error {
			orders, err := v.fetch(gctx, b)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", b, err)
			}
			results[i] = orders
			return nil
		})
	}
	var requests []model.CancellationRequest
	if withRequests {
		g.Go(func() error {
			list, err := v.fetchRequests(gctx)
			if err != nil {
				return fmt.Errorf("fetch cancel requests: %w", err)
			}
			requests = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return v.do(ctx, func() {
		var (
			current     []bucket.ID
			currentData [][]model.Order
		)
		for i, b := range buckets {
			if v.epoch(bucketKey(b)) != started[i] {
				continue
			}
			current = append(current, b)
			currentData = append(currentData, results[i])
		}
		v.load(current, currentData)
		if withRequests && v.epoch(requestsKey) == startedRequests {
			v.setRequests(requests)
		}
		v.notify(Change{Kind: ChangeReload})
	})
}

// fetch coalesces concurrent loads of the same bucket.
func (v *View) fetch(ctx context.Context, b bucket.ID) ([]model.Order, error) {
	res, err, _ := v.fetches.Do(bucketKey(b), func() (interface{}, error) {
		return v.backend.FetchOrders(ctx, v.cfg.Role, b)
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.Order), nil
}

func (v *View) fetchRequests(ctx context.Context) ([]model.CancellationRequest, error) {
	res, err, _ := v.fetches.Do(requestsKey, func() (interface{}, error) {
		return v.backend.ListCancellationRequests(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.CancellationRequest), nil
}

func bucketKey(b bucket.ID) string { return "bucket:" + string(b) }

func (v *View) epoch(key string) int64 {
	if e := v.epochs[key]; e != nil {
		return e.Load()
	}
	return 0
}

// invalidate makes reloads already in flight for buckets drop their results
// and keeps later fetches from joining calls that started before now.
func (v *View) invalidate(withRequests bool, buckets ...bucket.ID) {
	for _, b := range buckets {
		key := bucketKey(b)
		if e := v.epochs[key]; e != nil {
			e.Inc()
		}
		v.fetches.Forget(key)
	}
	if withRequests {
		v.epochs[requestsKey].Inc()
		v.fetches.Forget(requestsKey)
	}
}

// load places fetched orders by local classification. The server's bucket
// filter is a hint; an order it returns for a bucket the client would not
// show there lands where the classifier puts it, or nowhere.
func (v *View) load(buckets []bucket.ID, results [][]model.Order) {
	fetched := make(map[bucket.ID]bool, len(buckets))
	for _, b := range buckets {
		fetched[b] = true
	}
	placed := make(map[bucket.ID][]model.Order)
	var dropped []int64
	for i := range buckets {
		for _, o := range results[i] {
			target := bucket.ForActor(v.cfg.Role, v.cfg.ActorID, o)
			if target == bucket.Excluded {
				dropped = append(dropped, o.ID)
				continue
			}
			placed[target] = append(placed[target], o)
		}
	}
	for _, b := range v.buckets {
		if fetched[b] {
			v.store.Load(b, placed[b])
		}
	}
	for _, b := range v.buckets {
		if fetched[b] {
			continue
		}
		for _, o := range placed[b] {
			v.store.Upsert(o, b)
		}
	}
	for _, id := range dropped {
		v.remove(id)
	}
}

// refreshAsync reloads in the background; the result is applied through the
// inbox like any other mutation.
func (v *View) refreshAsync(withRequests bool, buckets ...bucket.ID) {
	go func() {
		ctx, cancel := context.WithTimeout(v.base, resyncTimeout)
		defer cancel()
		if err := v.reload(ctx, withRequests, buckets...); err != nil && v.base.Err() == nil {
			v.logf("roleview: background reload failed: %v", err)
		}
	}()
}

// resync reloads after a failed action. The caller's context may already
// be expired, so the view's own context bounds the reload.
func (v *View) resync(buckets ...bucket.ID) {
	ctx, cancel := context.WithTimeout(v.base, resyncTimeout)
	defer cancel()
	if len(buckets) == 0 {
		buckets = v.buckets
	}
	// Data read before the failure may predate the change that caused it.
	v.invalidate(true, buckets...)
	if err := v.reload(ctx, true, buckets...); err != nil && v.base.Err() == nil {
		v.logf("roleview: reload after failure: %v", err)
	}
}

// place stores an updated order that currently lives in from.
func (v *View) place(o model.Order, from bucket.ID) {
	to := bucket.ForActor(v.cfg.Role, v.cfg.ActorID, o)
	switch {
	case to == bucket.Excluded:
		v.remove(o.ID)
	case to == from:
		v.store.Upsert(o, to)
		v.notify(Change{Kind: ChangeOrder, OrderID: o.ID, From: from, To: to, Order: o})
	default:
		if err := v.store.Move(o.ID, from, to, &o); err != nil {
			v.logf("roleview: move order %d %s->%s: %v", o.ID, from, to, err)
			v.refreshAsync(false, v.buckets...)
			return
		}
		v.notify(Change{Kind: ChangeOrder, OrderID: o.ID, From: from, To: to, Order: o})
	}
}

// put applies an authoritative order returned by the backend.
func (v *View) put(o model.Order) {
	if _, from, ok := v.store.Lookup(o.ID); ok {
		v.place(o, from)
		return
	}
	to := bucket.ForActor(v.cfg.Role, v.cfg.ActorID, o)
	if to == bucket.Excluded {
		return
	}
	v.store.Upsert(o, to)
	v.notify(Change{Kind: ChangeOrder, OrderID: o.ID, From: bucket.Excluded, To: to, Order: o})
}

func (v *View) remove(orderID int64) {
	o, from, ok := v.store.Lookup(orderID)
	if !ok {
		return
	}
	v.store.Remove(orderID)
	delete(v.locations, orderID)
	v.notify(Change{Kind: ChangeOrder, OrderID: orderID, From: from, To: bucket.Excluded, Order: o})
}

func (v *View) notify(c Change) {
	for _, fn := range v.listeners {
		fn(c)
	}
}

func (v *View) logf(format string, args ...interface{}) {
	if v.logger != nil {
		v.logger.Errorf(format, args...)
	}
}
