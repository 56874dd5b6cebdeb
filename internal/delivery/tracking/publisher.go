package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// Logger provides minimal logging for the publisher.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sender delivers one position to the backend.
type Sender interface {
	PublishLocation(ctx context.Context, lat, lng float64) error
}

// Fix is a single position reading.
type Fix struct {
	Lat float64
	Lng float64
	At  time.Time
}

// Stats counts what happened to submitted fixes.
type Stats struct {
	Sent      int64
	Coalesced int64
	Failed    int64
}

// Publisher sends shipper positions no more often than the configured
// interval. Fixes submitted while waiting replace each other; only the most
// recent one is sent.
type Publisher struct {
	sender  Sender
	limiter *rate.Limiter
	logger  Logger

	mu      sync.Mutex
	pending *Fix
	last    Fix
	wake    chan struct{}

	sent      atomic.Int64
	coalesced atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a publisher. An interval of zero sends every fix.
func NewPublisher(sender Sender, interval time.Duration, logger Logger) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("tracking: sender is required")
	}
	if interval < 0 {
		return nil, errors.New("tracking: interval must not be negative")
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Publisher{
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Update submits a new position. It never blocks.
func (p *Publisher) Update(lat, lng float64) {
	p.mu.Lock()
	if p.pending != nil {
		p.coalesced.Inc()
	}
	p.pending = &Fix{Lat: lat, Lng: lng, At: time.Now()}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Last returns the most recently sent fix.
func (p *Publisher) Last() (Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, !p.last.At.IsZero()
}

// Stats returns the publisher counters.
func (p *Publisher) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Coalesced: p.coalesced.Load(), Failed: p.failed.Load()}
}

// Run sends pending fixes until ctx is done. A failed send is logged and
// dropped; the next fix goes out on its own.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		fix := p.pending
		p.pending = nil
		p.mu.Unlock()
		if fix == nil {
			continue
		}

		if err := p.sender.PublishLocation(ctx, fix.Lat, fix.Lng); err != nil {
			p.failed.Inc()
			if p.logger != nil {
				p.logger.Errorf("tracking: publish location failed: %v", err)
			}
			continue
		}
		p.sent.Inc()
		p.mu.Lock()
		p.last = *fix
		p.mu.Unlock()
	}
}
