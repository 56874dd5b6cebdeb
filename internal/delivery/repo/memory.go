package repo

import (
	"context"
	"sort"
	"sync"

	"foodflow/internal/delivery/model"
)

// MemoryRepo keeps orders and cancellation requests in process. It backs the
// server when no database is configured and is used by tests.
type MemoryRepo struct {
	mu         sync.Mutex
	nextOrder  int64
	nextReq    int64
	orders     map[int64]model.Order
	requests   map[int64]model.CancellationRequest
	resolvedBy map[int64]int64
}

// NewMemoryRepo creates an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:     make(map[int64]model.Order),
		requests:   make(map[int64]model.CancellationRequest),
		resolvedBy: make(map[int64]int64),
	}
}

// Create stores a new order and assigns its id.
func (m *MemoryRepo) Create(ctx context.Context, o model.Order) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	o.ID = m.nextOrder
	m.orders[o.ID] = o.Clone()
	return o.Clone(), nil
}

// Get returns an order.
func (m *MemoryRepo) Get(ctx context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o.Clone(), nil
}

// List returns orders matching f, newest first.
func (m *MemoryRepo) List(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if f.match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	from, to := page(len(out), f.Limit, f.Offset)
	return out[from:to], nil
}

// Mutate applies fn to the order while holding the repository lock.
func (m *MemoryRepo) Mutate(ctx context.Context, id int64, fn MutateFunc) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	o := cur.Clone()
	changed, err := fn(&o)
	if err != nil {
		return model.Order{}, err
	}
	if changed {
		m.orders[id] = o.Clone()
	}
	return o, nil
}

// CreateRequest stores the request built by fn unless the order already has a
// pending one, which is returned instead.
func (m *MemoryRepo) CreateRequest(ctx context.Context, orderID int64, fn RequestFunc) (model.CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.CancellationRequest{}, ErrNotFound
	}
	req, err := fn(o.Clone())
	if err != nil {
		return model.CancellationRequest{}, err
	}
	for _, existing := range m.requests {
		if existing.OrderID == orderID && existing.Pending() {
			return m.withContext(existing), nil
		}
	}
	m.nextReq++
	req.ID = m.nextReq
	m.requests[req.ID] = req
	return m.withContext(req), nil
}

// GetRequest returns one request.
func (m *MemoryRepo) GetRequest(ctx context.Context, id int64) (model.CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return model.CancellationRequest{}, ErrRequestNotFound
	}
	return m.withContext(req), nil
}

// ListRequests returns requests matching f, oldest first.
func (m *MemoryRepo) ListRequests(ctx context.Context, f RequestFilter) ([]model.CancellationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CancellationRequest
	for _, req := range m.requests {
		req = m.withContext(req)
		if f.match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	from, to := page(len(out), f.Limit, f.Offset)
	return out[from:to], nil
}

// ResolveRequest applies fn to the request and its order atomically.
func (m *MemoryRepo) ResolveRequest(ctx context.Context, id, adminID int64, fn ResolveFunc) (model.CancellationRequest, model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return model.CancellationRequest{}, model.Order{}, ErrRequestNotFound
	}
	cur, ok := m.orders[req.OrderID]
	if !ok {
		return model.CancellationRequest{}, model.Order{}, ErrNotFound
	}
	req = m.withContext(req)
	o := cur.Clone()
	changed, err := fn(&req, &o)
	if err != nil {
		return model.CancellationRequest{}, model.Order{}, err
	}
	if changed {
		m.orders[o.ID] = o.Clone()
	}
	m.requests[id] = req
	m.resolvedBy[id] = adminID
	return req, o, nil
}

func (m *MemoryRepo) withContext(req model.CancellationRequest) model.CancellationRequest {
	if o, ok := m.orders[req.OrderID]; ok {
		req.CustomerID = o.CustomerID
		req.RestaurantID = o.RestaurantID
		req.OrderStatus = o.Status
		req.OrderTotal = o.Total
	}
	return req
}
