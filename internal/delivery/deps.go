package delivery

import (
	"database/sql"
	"errors"

	"github.com/redis/go-redis/v9"

	"foodflow/internal/delivery/events"
)

// Logger provides minimal logging required by the delivery module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Deps groups external dependencies needed by the delivery module. DB and
// RDB are optional: without DB orders live in memory, without RDB events are
// delivered to local connections only and shipper positions are not stored.
type Deps struct {
	DB     *sql.DB
	RDB    *redis.Client
	Sinks  []events.Sink
	Logger Logger
	Config Config
	module *moduleState
}

// Validate ensures required dependencies are provided.
func (d *Deps) Validate() error {
	if d == nil {
		return errors.New("delivery deps are nil")
	}
	if d.Logger == nil {
		return errors.New("delivery deps: Logger is required")
	}
	return d.Config.Validate()
}
