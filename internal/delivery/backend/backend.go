package backend

import (
	"context"
	"net/http"
	"strconv"

	"foodflow/internal/delivery/bucket"
	"foodflow/internal/delivery/lifecycle"
	"foodflow/internal/delivery/model"
)

// Logger is the minimal logging interface used by the clients.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Identity is the acting party of a client. When Token is set it is sent as
// a bearer token and the server derives the identity from it.
type Identity struct {
	Role    model.Role
	ActorID int64
	Token   string
}

func (id Identity) apply(h http.Header) {
	if name := id.Role.Header(); name != "" {
		h.Set(name, strconv.FormatInt(id.ActorID, 10))
	}
	if id.Token != "" {
		h.Set("Authorization", "Bearer "+id.Token)
	}
}

// Quote is a checkout fee quote.
type Quote struct {
	DistanceM int   `json:"distance_m"`
	Fee       int64 `json:"fee"`
	Offerable bool  `json:"offerable"`
}

// Backend is the request/response side of the order service. All methods
// return *apperr.Error values for failures the server reported.
type Backend interface {
	FetchOrders(ctx context.Context, role model.Role, b bucket.ID) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, next lifecycle.Status, reason string) (model.Order, error)
	ClaimOrder(ctx context.Context, orderID int64) (model.Order, error)
	CancelOrder(ctx context.Context, orderID int64, reason string) (model.Order, error)
	CreateCancellationRequest(ctx context.Context, orderID int64, reason string) (model.CancellationRequest, error)
	ListCancellationRequests(ctx context.Context) ([]model.CancellationRequest, error)
	ResolveCancellationRequest(ctx context.Context, requestID int64, approve bool, reason string) (model.CancellationRequest, error)
	PublishLocation(ctx context.Context, lat, lng float64) error
	Quote(ctx context.Context, distanceM int) (Quote, error)
}

// Subscriber is the push side of the order service. Subscribing to a topic
// twice has no additional effect.
type Subscriber interface {
	Subscribe(topic model.Topic) error
	Unsubscribe(topic model.Topic) error
	Events() <-chan model.Event
}
