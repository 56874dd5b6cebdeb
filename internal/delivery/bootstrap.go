package delivery

import (
	"context"
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"

	"foodflow/internal/delivery/auth"
	"foodflow/internal/delivery/events"
	"foodflow/internal/delivery/geo"
	deliveryhttp "foodflow/internal/delivery/http"
	"foodflow/internal/delivery/repo"
	"foodflow/internal/delivery/service"
	"foodflow/internal/delivery/ws"
)

type moduleState struct {
	hub     *ws.Hub
	broker  *events.Broker
	locator *geo.ShipperLocator
	tokens  *auth.Manager
	service *service.Service
	server  *deliveryhttp.Server
}

func ensureModule(deps *Deps) (*moduleState, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.module != nil {
		return deps.module, nil
	}

	var (
		orders   service.OrderStore
		requests service.RequestStore
	)
	if deps.DB != nil {
		orders = repo.NewOrdersRepo(deps.DB)
		requests = repo.NewCancelRequestsRepo(deps.DB)
	} else {
		deps.Logger.Infof("delivery: no database configured, orders are kept in memory")
		mem := repo.NewMemoryRepo()
		orders, requests = mem, mem
	}

	hub := ws.NewHub(deps.Logger)
	broker := events.NewBroker(hub, deps.RDB, deps.Config.EventsChannel, deps.Logger, deps.Sinks...)

	state := &moduleState{hub: hub, broker: broker}
	var (
		locator   service.Locator
		positions deliveryhttp.Positions
	)
	if deps.RDB != nil {
		state.locator = geo.NewShipperLocator(deps.RDB, deps.Config.RedisCity, deps.Logger)
		locator, positions = state.locator, state.locator
	}
	if deps.Config.JWTSecret != "" {
		tokens, err := auth.NewManager(deps.Config.JWTSecret)
		if err != nil {
			return nil, err
		}
		state.tokens = tokens
	}

	state.service = service.New(service.Config{
		Fee:                 deps.Config.Fee,
		RequireRejectReason: deps.Config.RequireRejectReason,
		PageSize:            deps.Config.PageSize,
	}, orders, requests, broker, locator, deps.Logger)
	state.server = deliveryhttp.NewServer(deps.Logger, state.service, http.HandlerFunc(hub.ServeWS), positions)

	deps.module = state
	return state, nil
}

// RegisterDeliveryRoutes wires HTTP and WebSocket routes into the provided mux.
func RegisterDeliveryRoutes(mux *pat.PatternServeMux, chain alice.Chain, deps *Deps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	if module.tokens != nil {
		chain = chain.Append(module.tokens.Middleware(deps.Config.RequireToken))
	}
	module.server.RegisterRoutes(mux, chain)
	return nil
}

// StartDeliveryWorkers launches the event relay.
func StartDeliveryWorkers(ctx context.Context, deps *Deps) error {
	module, err := ensureModule(deps)
	if err != nil {
		return err
	}
	go func() {
		if err := module.broker.Run(ctx); err != nil {
			deps.Logger.Errorf("delivery: event relay stopped: %v", err)
		}
	}()
	return nil
}

// Service exposes the order service for in-process callers.
func Service(deps *Deps) (*service.Service, error) {
	module, err := ensureModule(deps)
	if err != nil {
		return nil, err
	}
	return module.service, nil
}
