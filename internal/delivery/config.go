package delivery

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"foodflow/internal/delivery/pricing"
)

const (
	defaultBaseFee           = 20000
	defaultMaxFee            = 50000
	defaultMaxDistanceKm     = 15
	defaultRequestTimeout    = 5 * time.Second
	defaultLocationRefresh   = 3 * time.Second
	defaultLocationPublish   = 5 * time.Second
	defaultPageSize          = 50
	defaultRedisCity         = "almaty"
	defaultEventsChannel     = "foodflow:events"
	defaultAMQPExchange      = "order_events_fanout"
	defaultRequireRejectNote = true
)

// Config holds runtime configuration for the delivery module.
type Config struct {
	Fee                     pricing.Policy
	RequestTimeout          time.Duration
	LocationRefreshInterval time.Duration
	LocationPublishInterval time.Duration
	RequireRejectReason     bool
	PageSize                int
	RedisCity               string
	EventsChannel           string
	AMQPExchange            string
	JWTSecret               string
	RequireToken            bool
}

// LoadConfig reads delivery configuration from environment variables and applies defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		Fee: pricing.Policy{
			BaseFee:       defaultBaseFee,
			MaxFee:        defaultMaxFee,
			MaxDistanceKm: defaultMaxDistanceKm,
		},
		RequestTimeout:          defaultRequestTimeout,
		LocationRefreshInterval: defaultLocationRefresh,
		LocationPublishInterval: defaultLocationPublish,
		RequireRejectReason:     defaultRequireRejectNote,
		PageSize:                defaultPageSize,
		RedisCity:               defaultRedisCity,
		EventsChannel:           defaultEventsChannel,
		AMQPExchange:            defaultAMQPExchange,
	}

	if v, err := readIntEnv("DELIVERY_BASE_FEE"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_BASE_FEE: %w", err)
	} else if v != nil {
		cfg.Fee.BaseFee = int64(*v)
	}

	if v, err := readIntEnv("DELIVERY_MAX_FEE"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_MAX_FEE: %w", err)
	} else if v != nil {
		cfg.Fee.MaxFee = int64(*v)
	}

	if v := os.Getenv("DELIVERY_MAX_DISTANCE_KM"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse DELIVERY_MAX_DISTANCE_KM: %w", err)
		}
		cfg.Fee.MaxDistanceKm = km
	}

	if v, err := readIntEnv("DELIVERY_REQUEST_TIMEOUT_SECONDS"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_REQUEST_TIMEOUT_SECONDS: %w", err)
	} else if v != nil {
		cfg.RequestTimeout = time.Duration(*v) * time.Second
	}

	if v, err := readIntEnv("DELIVERY_LOCATION_REFRESH_MS"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_LOCATION_REFRESH_MS: %w", err)
	} else if v != nil {
		cfg.LocationRefreshInterval = time.Duration(*v) * time.Millisecond
	}

	if v, err := readIntEnv("DELIVERY_LOCATION_PUBLISH_MS"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_LOCATION_PUBLISH_MS: %w", err)
	} else if v != nil {
		cfg.LocationPublishInterval = time.Duration(*v) * time.Millisecond
	}

	if v := os.Getenv("DELIVERY_REQUIRE_REJECT_REASON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse DELIVERY_REQUIRE_REJECT_REASON: %w", err)
		}
		cfg.RequireRejectReason = b
	}

	if v, err := readIntEnv("DELIVERY_PAGE_SIZE"); err != nil {
		return Config{}, fmt.Errorf("parse DELIVERY_PAGE_SIZE: %w", err)
	} else if v != nil {
		cfg.PageSize = *v
	}

	if v := os.Getenv("DELIVERY_REDIS_CITY"); strings.TrimSpace(v) != "" {
		cfg.RedisCity = strings.ToLower(strings.TrimSpace(v))
	}
	if v := strings.TrimSpace(os.Getenv("DELIVERY_EVENTS_CHANNEL")); v != "" {
		cfg.EventsChannel = v
	}
	if v := strings.TrimSpace(os.Getenv("DELIVERY_AMQP_EXCHANGE")); v != "" {
		cfg.AMQPExchange = v
	}
	cfg.JWTSecret = os.Getenv("DELIVERY_JWT_SECRET")
	if v := os.Getenv("DELIVERY_REQUIRE_TOKEN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse DELIVERY_REQUIRE_TOKEN: %w", err)
		}
		cfg.RequireToken = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Fee.BaseFee <= 0 {
		return fmt.Errorf("DELIVERY_BASE_FEE must be positive")
	}
	if c.Fee.MaxFee < c.Fee.BaseFee {
		return fmt.Errorf("DELIVERY_MAX_FEE must be >= DELIVERY_BASE_FEE")
	}
	if c.Fee.MaxDistanceKm <= 0 {
		return fmt.Errorf("DELIVERY_MAX_DISTANCE_KM must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("DELIVERY_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.LocationRefreshInterval < 0 {
		return fmt.Errorf("DELIVERY_LOCATION_REFRESH_MS must not be negative")
	}
	if c.LocationPublishInterval < 0 {
		return fmt.Errorf("DELIVERY_LOCATION_PUBLISH_MS must not be negative")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("DELIVERY_PAGE_SIZE must be positive")
	}
	if c.RequireToken && c.JWTSecret == "" {
		return fmt.Errorf("DELIVERY_REQUIRE_TOKEN needs DELIVERY_JWT_SECRET")
	}
	return nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
