package store

import (
	"errors"
	"sort"

	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/model"
)

// ErrNotInBucket is returned by Move when the order is not where the caller
// expected it.
var ErrNotInBucket = errors.New("order not in bucket")

// Snapshot is an immutable copy of a store's content.
type Snapshot struct {
	Buckets []bucket.ID
	Orders  map[bucket.ID][]model.Order
}

// Bucket returns the orders of b in the snapshot.
func (s Snapshot) Bucket(b bucket.ID) []model.Order { return s.Orders[b] }

// Find returns the bucket holding orderID.
func (s Snapshot) Find(orderID int64) (bucket.ID, model.Order, bool) {
	for _, b := range s.Buckets {
		for _, o := range s.Orders[b] {
			if o.ID == orderID {
				return b, o, true
			}
		}
	}
	return bucket.Excluded, model.Order{}, false
}

// Store keeps the bucket partition of one role-view. Every order lives in at
// most one bucket. Store is not safe for concurrent use; the owning view
// serializes access.
type Store struct {
	role    model.Role
	order   []bucket.ID
	buckets map[bucket.ID][]model.Order
	index   map[int64]bucket.ID
}

// New creates an empty store with role's bucket layout.
func New(role model.Role) *Store {
	s := &Store{
		role:    role,
		order:   bucket.Buckets(role),
		buckets: make(map[bucket.ID][]model.Order),
		index:   make(map[int64]bucket.ID),
	}
	for _, b := range s.order {
		s.buckets[b] = nil
	}
	return s
}

// Role returns the role the store partitions for.
func (s *Store) Role() model.Role { return s.role }

// Load replaces the content of b. Orders listed in b that live in another
// bucket are removed from there first.
func (s *Store) Load(b bucket.ID, items []model.Order) {
	if _, ok := s.buckets[b]; !ok {
		return
	}
	for _, o := range s.buckets[b] {
		delete(s.index, o.ID)
	}
	seen := make(map[int64]struct{}, len(items))
	list := make([]model.Order, 0, len(items))
	for _, o := range items {
		if _, dup := seen[o.ID]; dup {
			continue
		}
		seen[o.ID] = struct{}{}
		if prev, ok := s.index[o.ID]; ok && prev != b {
			s.removeFrom(prev, o.ID)
		}
		list = append(list, o.Clone())
		s.index[o.ID] = b
	}
	if s.role == model.RoleCustomer {
		sortNewestFirst(list)
	}
	s.buckets[b] = list
}

// Upsert stores o in b. An order already in b is replaced in place; one in
// another bucket is moved. Returns false when b is not a bucket of the role.
func (s *Store) Upsert(o model.Order, b bucket.ID) bool {
	if _, ok := s.buckets[b]; !ok {
		return false
	}
	if cur, ok := s.index[o.ID]; ok {
		if cur == b {
			list := s.buckets[b]
			for i := range list {
				if list[i].ID == o.ID {
					list[i] = o.Clone()
					return true
				}
			}
		}
		s.removeFrom(cur, o.ID)
	}
	s.insert(b, o.Clone())
	return true
}

// Move relocates orderID from one bucket to another, replacing its content
// with updated when non-nil. When the order is not in from nothing changes.
func (s *Store) Move(orderID int64, from, to bucket.ID, updated *model.Order) error {
	if cur, ok := s.index[orderID]; !ok || cur != from {
		return ErrNotInBucket
	}
	if _, ok := s.buckets[to]; !ok {
		return ErrNotInBucket
	}
	o, _ := s.removeFrom(from, orderID)
	if updated != nil {
		o = updated.Clone()
	}
	s.insert(to, o)
	return nil
}

// Remove drops orderID from whichever bucket holds it.
func (s *Store) Remove(orderID int64) (model.Order, bool) {
	b, ok := s.index[orderID]
	if !ok {
		return model.Order{}, false
	}
	return s.removeFrom(b, orderID)
}

// Lookup finds an order and its bucket.
func (s *Store) Lookup(orderID int64) (model.Order, bucket.ID, bool) {
	b, ok := s.index[orderID]
	if !ok {
		return model.Order{}, bucket.Excluded, false
	}
	for _, o := range s.buckets[b] {
		if o.ID == orderID {
			return o.Clone(), b, true
		}
	}
	return model.Order{}, bucket.Excluded, false
}

// Update mutates an order in place without changing its bucket.
func (s *Store) Update(orderID int64, fn func(*model.Order)) bool {
	b, ok := s.index[orderID]
	if !ok {
		return false
	}
	list := s.buckets[b]
	for i := range list {
		if list[i].ID == orderID {
			fn(&list[i])
			return true
		}
	}
	return false
}

// Each calls fn for every order, bucket by bucket.
func (s *Store) Each(fn func(bucket.ID, model.Order)) {
	for _, b := range s.order {
		for _, o := range s.buckets[b] {
			fn(b, o)
		}
	}
}

// Bucket returns a copy of the orders in b.
func (s *Store) Bucket(b bucket.ID) []model.Order {
	list := s.buckets[b]
	out := make([]model.Order, len(list))
	for i, o := range list {
		out[i] = o.Clone()
	}
	return out
}

// Len returns the number of orders across buckets.
func (s *Store) Len() int { return len(s.index) }

// Snapshot copies the current partition.
func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Buckets: append([]bucket.ID(nil), s.order...),
		Orders:  make(map[bucket.ID][]model.Order, len(s.order)),
	}
	for _, b := range s.order {
		snap.Orders[b] = s.Bucket(b)
	}
	return snap
}

// Clear empties every bucket.
func (s *Store) Clear() {
	for _, b := range s.order {
		s.buckets[b] = nil
	}
	s.index = make(map[int64]bucket.ID)
}

func (s *Store) insert(b bucket.ID, o model.Order) {
	if s.role == model.RoleCustomer {
		s.buckets[b] = append([]model.Order{o}, s.buckets[b]...)
	} else {
		s.buckets[b] = append(s.buckets[b], o)
	}
	s.index[o.ID] = b
}

func (s *Store) removeFrom(b bucket.ID, orderID int64) (model.Order, bool) {
	list := s.buckets[b]
	for i := range list {
		if list[i].ID == orderID {
			o := list[i]
			s.buckets[b] = append(list[:i:i], list[i+1:]...)
			delete(s.index, orderID)
			return o, true
		}
	}
	return model.Order{}, false
}

func sortNewestFirst(list []model.Order) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}
