package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"foodflow/internal/config"
	"foodflow/internal/delivery"
	"foodflow/internal/delivery/events"
	"foodflow/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Address
	} else if port[0] != ':' {
		port = ":" + port
	}
	addr := flag.String("addr", port, "HTTP network address")
	flag.Parse()

	base, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer base.Sync()
	logger := logging.Named(base, "server")

	deliveryCfg, err := delivery.LoadConfig()
	if err != nil {
		logger.Fatalf("load delivery config: %v", err)
	}
	deps := &delivery.Deps{Logger: logging.Named(base, "delivery"), Config: deliveryCfg}

	if cfg.Database.URL != "" {
		db, err := openDB(cfg.Database.URL)
		if err != nil {
			logger.Fatalf("open database: %v", err)
		}
		defer db.Close()
		deps.DB = db
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatalf("connect redis %s: %v", cfg.Redis.Addr, err)
		}
		defer rdb.Close()
		deps.RDB = rdb
	}

	var sink *events.AMQPSink
	if cfg.AMQP.URL != "" {
		sink, err = events.DialAMQP(cfg.AMQP.URL, deliveryCfg.AMQPExchange)
		if err != nil {
			logger.Errorf("amqp unavailable, order events stay in-process: %v", err)
			sink = nil
		} else {
			defer sink.Close()
			deps.Sinks = append(deps.Sinks, sink)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := delivery.StartDeliveryWorkers(ctx, deps); err != nil {
		logger.Fatalf("start delivery workers: %v", err)
	}

	app := &application{logger: logger, deps: deps, sink: sink}
	handler, err := app.routes()
	if err != nil {
		logger.Fatalf("register routes: %v", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001", "http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         *addr,
		ErrorLog:     zap.NewStdLog(base),
		Handler:      addSecurityHeaders(c.Handler(handler)),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	logger.Infof("Starting server on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("listen: %v", err)
	}
	logger.Infof("server stopped")
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(35)
	return db, nil
}
