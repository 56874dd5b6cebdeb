package deliveryhttp

import (
	"context"
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/service"
)

// Logger captures the logging contract required by the server.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// Positions reads and clears stored shipper positions.
type Positions interface {
	Position(ctx context.Context, shipperID int64) (*model.Position, error)
	GoOffline(ctx context.Context, shipperID int64) error
}

// Server provides HTTP handlers for food orders.
type Server struct {
	logger    Logger
	svc       *service.Service
	push      http.Handler
	positions Positions
}

// NewServer constructs a Server. push serves the websocket endpoint and
// positions may be nil when no position store is configured.
func NewServer(logger Logger, svc *service.Service, push http.Handler, positions Positions) *Server {
	return &Server{logger: logger, svc: svc, push: push, positions: positions}
}

// RegisterRoutes mounts the order API on mux behind chain.
func (s *Server) RegisterRoutes(mux *pat.PatternServeMux, chain alice.Chain) {
	mux.Post("/api/v1/orders", chain.ThenFunc(s.handleCheckout))
	mux.Get("/api/v1/orders", chain.ThenFunc(s.handleListOrders))
	mux.Get("/api/v1/orders/:id", chain.ThenFunc(s.handleGetOrder))
	mux.Post("/api/v1/orders/:id/status", chain.ThenFunc(s.handleUpdateStatus))
	mux.Post("/api/v1/orders/:id/claim", chain.ThenFunc(s.handleClaim))
	mux.Post("/api/v1/orders/:id/cancel", chain.ThenFunc(s.handleCancel))
	mux.Post("/api/v1/orders/:id/cancel-requests", chain.ThenFunc(s.handleCreateCancelRequest))
	mux.Get("/api/v1/orders/:id/shipper-location", chain.ThenFunc(s.handleShipperLocation))

	mux.Get("/api/v1/cancel-requests", chain.ThenFunc(s.handleListCancelRequests))
	mux.Post("/api/v1/cancel-requests/:id/resolve", chain.ThenFunc(s.handleResolveCancelRequest))

	mux.Post("/api/v1/quote", chain.ThenFunc(s.handleQuote))
	mux.Post("/api/v1/shippers/location", chain.ThenFunc(s.handlePublishLocation))
	mux.Del("/api/v1/shippers/location", chain.ThenFunc(s.handleGoOffline))

	if s.push != nil {
		mux.Get("/ws", chain.Then(s.push))
	}
}
