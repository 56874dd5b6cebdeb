package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"foodflow/internal/delivery/apperr"
	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/policy"
	"foodflow/internal/delivery/pricing"
	"foodflow/internal/delivery/repo"
)

// Logger is the minimal logging interface used by the service.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, o model.Order) (model.Order, error)
	Get(ctx context.Context, id int64) (model.Order, error)
	List(ctx context.Context, f repo.OrderFilter) ([]model.Order, error)
	Mutate(ctx context.Context, id int64, fn repo.MutateFunc) (model.Order, error)
}

// RequestStore persists cancellation requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, orderID int64, fn repo.RequestFunc) (model.CancellationRequest, error)
	GetRequest(ctx context.Context, id int64) (model.CancellationRequest, error)
	ListRequests(ctx context.Context, f repo.RequestFilter) ([]model.CancellationRequest, error)
	ResolveRequest(ctx context.Context, id, adminID int64, fn repo.ResolveFunc) (model.CancellationRequest, model.Order, error)
}

// Publisher fans an event out to push topics.
type Publisher interface {
	Publish(ctx context.Context, topics []model.Topic, ev model.Event) error
}

// Locator records shipper positions.
type Locator interface {
	SafeUpdateShipper(ctx context.Context, shipperID int64, lng, lat float64) error
}

// Config tunes the service.
type Config struct {
	Fee                 pricing.Policy
	RequireRejectReason bool
	PageSize            int
}

// Service implements the order operations behind the REST API.
type Service struct {
	cfg      Config
	orders   OrderStore
	requests RequestStore
	pub      Publisher
	locator  Locator
	logger   Logger
	now      func() time.Time
}

// New constructs a Service. Publisher and locator are optional.
func New(cfg Config, orders OrderStore, requests RequestStore, pub Publisher, locator Locator, logger Logger) *Service {
	if cfg.Fee.MaxFee == 0 {
		cfg.Fee = pricing.Default
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Service{
		cfg:      cfg,
		orders:   orders,
		requests: requests,
		pub:      pub,
		locator:  locator,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CheckoutInput describes a new order.
type CheckoutInput struct {
	RestaurantID    int64            `json:"restaurant_id"`
	DeliveryAddress string           `json:"delivery_address"`
	DistanceM       int              `json:"distance_m"`
	Items           []model.LineItem `json:"items"`
}

// Checkout creates a PENDING order for the customer and prices its delivery.
func (s *Service) Checkout(ctx context.Context, customerID int64, in CheckoutInput) (model.Order, error) {
	if in.RestaurantID <= 0 {
		return model.Order{}, apperr.New(apperr.CodeBadRequest, "restaurant_id is required")
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return model.Order{}, apperr.New(apperr.CodeBadRequest, "delivery_address is required")
	}
	if len(in.Items) == 0 {
		return model.Order{}, apperr.New(apperr.CodeBadRequest, "order must contain at least one item")
	}
	km := float64(in.DistanceM) / 1000
	if in.DistanceM > 0 && !s.cfg.Fee.Offerable(km) {
		return model.Order{}, apperr.New(apperr.CodeNotEligible, "restaurant is too far away for delivery")
	}
	var subtotal int64
	for _, it := range in.Items {
		if it.Quantity <= 0 || it.UnitPrice < 0 {
			return model.Order{}, apperr.New(apperr.CodeBadRequest, "invalid line item")
		}
		subtotal += int64(it.Quantity) * it.UnitPrice
	}
	now := s.now()
	fee := s.cfg.Fee.FeeForMeters(in.DistanceM)
	o := model.Order{
		Status:          lifecycle.StatusPending,
		CustomerID:      customerID,
		RestaurantID:    in.RestaurantID,
		Total:           subtotal + fee,
		ShippingFee:     fee,
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		DistanceM:       in.DistanceM,
		Items:           in.Items,
		History:         []model.HistoryEntry{{Status: lifecycle.StatusPending, Note: "order placed", CreatedAt: now}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := s.orders.Create(ctx, o)
	if err != nil {
		return model.Order{}, err
	}
	s.publishStatus(ctx, created)
	return created, nil
}

// Quote prices a delivery distance.
func (s *Service) Quote(distanceM int) (int64, bool) {
	return s.cfg.Fee.FeeForMeters(distanceM), s.cfg.Fee.Offerable(float64(distanceM) / 1000)
}

// GetOrder returns an order visible to actor.
func (s *Service) GetOrder(ctx context.Context, actor policy.Actor, id int64) (model.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if !policy.CanView(actor, o) {
		return model.Order{}, policy.ErrNotFound
	}
	return o, nil
}

// ListOrders returns actor's orders in bucket b. An empty bucket lists every
// bucket of the role.
func (s *Service) ListOrders(ctx context.Context, actor policy.Actor, b bucket.ID, limit, offset int) ([]model.Order, error) {
	if actor.Role == model.RoleAdmin {
		return nil, policy.ErrForbidden
	}
	if b != bucket.Excluded && !bucket.Has(actor.Role, b) {
		return nil, apperr.New(apperr.CodeBadRequest, "unknown bucket "+string(b))
	}
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	f := repo.OrderFilter{Statuses: statusesFor(actor.Role, b), Limit: limit, Offset: offset}
	switch actor.Role {
	case model.RoleCustomer:
		// Rows with unrecognised status tokens still belong to the customer list.
		f.CustomerID = actor.ID
		f.Statuses = nil
	case model.RoleMerchant:
		f.RestaurantID = actor.ID
	case model.RoleShipper:
		f.ShipperID = actor.ID
		f.Unassigned = b == bucket.Excluded || b == bucket.Available
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := orders[:0]
	for _, o := range orders {
		got := bucket.ForActor(actor.Role, actor.ID, o)
		if got == bucket.Excluded {
			continue
		}
		if b == bucket.Excluded || got == b {
			out = append(out, o)
		}
	}
	return out, nil
}

func statusesFor(role model.Role, b bucket.ID) []lifecycle.Status {
	var out []lifecycle.Status
	for _, st := range lifecycle.All {
		for _, assigned := range []bool{false, true} {
			got := bucket.Classify(role, st, assigned)
			if got == bucket.Excluded || (b != bucket.Excluded && got != b) {
				continue
			}
			out = append(out, st)
			break
		}
	}
	return out
}

// UpdateStatus advances an order on behalf of actor.
func (s *Service) UpdateStatus(ctx context.Context, actor policy.Actor, id int64, next lifecycle.Status, reason string) (model.Order, error) {
	var changed bool
	o, err := s.orders.Mutate(ctx, id, func(o *model.Order) (bool, error) {
		var err error
		changed, err = policy.Advance(o, actor, next, reason, s.now())
		return changed, err
	})
	if err != nil {
		return model.Order{}, err
	}
	if changed {
		s.publishStatus(ctx, o)
	}
	return o, nil
}

// Claim assigns the order to shipperID when it is READY and unassigned.
func (s *Service) Claim(ctx context.Context, shipperID, id int64) (model.Order, error) {
	var changed bool
	o, err := s.orders.Mutate(ctx, id, func(o *model.Order) (bool, error) {
		var err error
		changed, err = policy.Claim(o, shipperID, s.now())
		return changed, err
	})
	if err != nil {
		return model.Order{}, err
	}
	if changed {
		if s.logger != nil {
			s.logger.Infof("order %d claimed by shipper %d", id, shipperID)
		}
		s.publishStatus(ctx, o)
	}
	return o, nil
}

// Cancel performs the customer's self-service cancellation.
func (s *Service) Cancel(ctx context.Context, customerID, id int64, reason string) (model.Order, error) {
	o, err := s.orders.Mutate(ctx, id, func(o *model.Order) (bool, error) {
		if err := policy.SelfCancel(o, customerID, reason, s.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return model.Order{}, err
	}
	s.publishStatus(ctx, o)
	return o, nil
}

// CreateCancelRequest files a request for an order past the self-service window.
func (s *Service) CreateCancelRequest(ctx context.Context, customerID, orderID int64, reason string) (model.CancellationRequest, error) {
	req, err := s.requests.CreateRequest(ctx, orderID, func(o model.Order) (model.CancellationRequest, error) {
		if err := policy.CheckCancelRequest(o, customerID); err != nil {
			return model.CancellationRequest{}, err
		}
		return policy.NewCancelRequest(o, customerID, reason, s.now()), nil
	})
	if err != nil {
		return model.CancellationRequest{}, err
	}
	s.publishRequest(ctx, model.EventRequestCreated, req)
	return req, nil
}

// ListCancelRequests returns the pending queue to admins, or every request of
// their own orders to customers. Admins may pass a resolution to filter on.
func (s *Service) ListCancelRequests(ctx context.Context, actor policy.Actor, resolution model.Resolution) ([]model.CancellationRequest, error) {
	switch actor.Role {
	case model.RoleAdmin:
		if resolution == "" {
			resolution = model.ResolutionPending
		}
		return s.requests.ListRequests(ctx, repo.RequestFilter{Resolution: resolution})
	case model.RoleCustomer:
		return s.requests.ListRequests(ctx, repo.RequestFilter{CustomerID: actor.ID, Resolution: resolution})
	}
	return nil, policy.ErrForbidden
}

// ResolveCancelRequest approves or rejects a pending request.
func (s *Service) ResolveCancelRequest(ctx context.Context, adminID, id int64, approve bool, reason string) (model.CancellationRequest, error) {
	var changed bool
	req, o, err := s.requests.ResolveRequest(ctx, id, adminID, func(r *model.CancellationRequest, o *model.Order) (bool, error) {
		var err error
		changed, err = policy.Resolve(r, o, approve, reason, s.cfg.RequireRejectReason, s.now())
		return changed, err
	})
	if err != nil {
		return model.CancellationRequest{}, err
	}
	if changed {
		s.publishStatus(ctx, o)
	}
	s.publishRequest(ctx, model.EventRequestResolved, req)
	return req, nil
}

// activeShipperStatuses are the statuses during which a shipper position is
// relevant to the customer.
var activeShipperStatuses = []lifecycle.Status{lifecycle.StatusConfirmed, lifecycle.StatusCooking, lifecycle.StatusReady, lifecycle.StatusShipping}

// PublishLocation stores the shipper position and forwards it to the
// customers of the shipper's active orders.
func (s *Service) PublishLocation(ctx context.Context, shipperID int64, lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return apperr.New(apperr.CodeBadRequest, "invalid coordinates")
	}
	if s.locator != nil {
		if err := s.locator.SafeUpdateShipper(ctx, shipperID, lng, lat); err != nil && s.logger != nil {
			s.logger.Errorf("store shipper %d position: %v", shipperID, err)
		}
	}
	orders, err := s.orders.List(ctx, repo.OrderFilter{ShipperID: shipperID, Statuses: activeShipperStatuses})
	if err != nil {
		return err
	}
	now := s.now()
	for _, o := range orders {
		ev := model.Event{
			ID:        uuid.NewString(),
			Type:      model.EventLocationChanged,
			OrderID:   o.ID,
			ShipperID: model.Int64Ptr(shipperID),
			Lat:       lat,
			Lng:       lng,
			At:        now,
		}
		s.publish(ctx, model.LocationTopics(o), ev)
	}
	return nil
}

func (s *Service) publishStatus(ctx context.Context, o model.Order) {
	ev := model.Event{
		ID:         uuid.NewString(),
		Type:       model.EventStatusChanged,
		OrderID:    o.ID,
		ShipperID:  o.ShipperID,
		Status:     o.Status,
		StatusText: o.StatusText,
		At:         s.now(),
	}
	s.publish(ctx, model.StatusTopics(o), ev)
}

func (s *Service) publishRequest(ctx context.Context, typ model.EventType, r model.CancellationRequest) {
	ev := model.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		OrderID:   r.OrderID,
		RequestID: r.ID,
		At:        s.now(),
	}
	s.publish(ctx, model.RequestTopics(r), ev)
}

// Publishing is best effort: the mutation already committed and clients
// recover missed events on their next refetch.
func (s *Service) publish(ctx context.Context, topics []model.Topic, ev model.Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, topics, ev); err != nil && s.logger != nil {
		s.logger.Errorf("publish %s for order %d: %v", ev.Type, ev.OrderID, err)
	}
}
