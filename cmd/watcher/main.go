// Command watcher keeps one actor's categorized order view in sync with the
// server and logs every change it applies.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"foodflow/internal/delivery/backend"
	"foodflow/internal/delivery/model"
	"foodflow/internal/delivery/roleview"
	"foodflow/internal/delivery/tracking"
	"foodflow/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	baseURL := flag.String("base-url", envOr("FOODFLOW_URL", "http://localhost:4001"), "order service base URL")
	roleName := flag.String("role", "customer", "customer, merchant, shipper or admin")
	actorID := flag.Int64("id", 1, "actor id")
	token := flag.String("token", os.Getenv("FOODFLOW_TOKEN"), "bearer token")
	refresh := flag.Duration("location-refresh", 3*time.Second, "minimum interval between identical shipper positions")
	publishEvery := flag.Duration("publish-every", 5*time.Second, "shipper position publish interval")
	lat := flag.Float64("lat", 0, "shipper latitude to publish")
	lng := flag.Float64("lng", 0, "shipper longitude to publish")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	base, err := logging.New(*level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer base.Sync()
	logger := logging.Named(base, "watcher")

	role, ok := model.ParseRole(*roleName)
	if !ok {
		logger.Fatalf("unknown role %q", *roleName)
	}
	id := backend.Identity{Role: role, ActorID: *actorID, Token: *token}

	client := backend.NewClient(*baseURL, id, nil, logger)
	push, err := backend.NewPushClient(*baseURL, id, logger)
	if err != nil {
		logger.Fatalf("push client: %v", err)
	}
	view, err := roleview.New(roleview.Config{
		Role:                    role,
		ActorID:                 *actorID,
		LocationRefreshInterval: *refresh,
	}, client, push, logger)
	if err != nil {
		logger.Fatalf("view: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(push.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(view.Run(ctx)) })

	if err := view.OnChange(ctx, func(c roleview.Change) { logChange(logger, c) }); err != nil {
		logger.Fatalf("listen: %v", err)
	}
	if err := view.Refresh(ctx); err != nil {
		logger.Errorf("initial load failed: %v", err)
	}
	if snap, err := view.Snapshot(ctx); err == nil {
		for _, b := range snap.Buckets {
			logger.Infow("bucket", "bucket", b, "orders", len(snap.Bucket(b)))
		}
	}

	if role == model.RoleShipper && (*lat != 0 || *lng != 0) {
		pub, err := tracking.NewPublisher(client, *publishEvery, logger)
		if err != nil {
			logger.Fatalf("publisher: %v", err)
		}
		g.Go(func() error { return ignoreCanceled(pub.Run(ctx)) })
		g.Go(func() error {
			ticker := time.NewTicker(*publishEvery)
			defer ticker.Stop()
			for {
				pub.Update(*lat, *lng)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("watcher stopped: %v", err)
	}
	st := view.Stats()
	ps := push.Stats()
	logger.Infow("done", "reloads", st.Reloads, "throttled_locations", st.ThrottledLocation, "push", ps)
}

func logChange(logger *zap.SugaredLogger, c roleview.Change) {
	switch c.Kind {
	case roleview.ChangeOrder:
		logger.Infow("order moved", "order", c.OrderID, "from", c.From, "to", c.To, "status", c.Order.Status)
	case roleview.ChangeLocation:
		if p := c.Order.Position; p != nil {
			logger.Infow("shipper position", "order", c.OrderID, "lat", p.Lat, "lng", p.Lng)
		}
	default:
		logger.Infow("view changed", "kind", c.Kind.String())
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
