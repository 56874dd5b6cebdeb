package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"go.uber.org/zap"

	"foodflow/internal/delivery"
	"foodflow/internal/delivery/events"
)

type application struct {
	logger *zap.SugaredLogger
	deps   *delivery.Deps
	sink   *events.AMQPSink
}

func (app *application) routes() (http.Handler, error) {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)

	mux := pat.New()
	mux.Get("/healthz", http.HandlerFunc(app.health))

	if err := delivery.RegisterDeliveryRoutes(mux, alice.New(), app.deps); err != nil {
		return nil, err
	}
	return standardMiddleware.Then(mux), nil
}

type healthReport struct {
	Status   string            `json:"status"`
	Backends map[string]string `json:"backends"`
}

func (app *application) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Backends: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			report.Status = "degraded"
			report.Backends[name] = err.Error()
			return
		}
		report.Backends[name] = "ok"
	}
	if app.deps.DB != nil {
		check("mysql", app.deps.DB.PingContext(ctx))
	}
	if app.deps.RDB != nil {
		check("redis", app.deps.RDB.Ping(ctx).Err())
	}
	if app.sink != nil {
		check("amqp", app.sink.Ping())
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
