package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"foodflow/internal/delivery/model"
)

// Logger is the logging interface used by the locator.
type Logger interface {
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// NearbyShipper is a shipper returned from a radius search.
type NearbyShipper struct {
	ID   int64
	Dist float64
	Lng  float64
	Lat  float64
}

// ShipperLocator stores the last known shipper positions of one city in a
// Redis GEO set. The time of each update is kept in a companion hash.
type ShipperLocator struct {
	rdb    *redis.Client
	city   string
	logger Logger
}

// NewShipperLocator creates a locator for city.
func NewShipperLocator(rdb *redis.Client, city string, logger Logger) *ShipperLocator {
	city = strings.ToLower(strings.TrimSpace(city))
	if city == "" {
		city = "default"
	}
	return &ShipperLocator{rdb: rdb, city: city, logger: logger}
}

func (l *ShipperLocator) geoKey() string  { return fmt.Sprintf("shippers:%s", l.city) }
func (l *ShipperLocator) seenKey() string { return fmt.Sprintf("shippers:%s:seen", l.city) }

func memberName(shipperID int64) string {
	return fmt.Sprintf("shipper:%d", shipperID)
}

func parseShipperMember(member string) (int64, error) {
	parts := strings.Split(member, ":")
	if len(parts) != 2 || parts[0] != "shipper" {
		return 0, fmt.Errorf("invalid member %q", member)
	}
	return strconv.ParseInt(parts[1], 10, 64)
}

func validateCoords(lng, lat float64) error {
	if math.IsNaN(lng) || math.IsNaN(lat) || lng < -180 || lng > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("invalid coords lng=%.8f lat=%.8f", lng, lat)
	}
	if math.Abs(lng) < 1e-4 && math.Abs(lat) < 1e-4 {
		return fmt.Errorf("near-zero coords lng=%.8f lat=%.8f", lng, lat)
	}
	return nil
}

// SafeUpdateShipper validates input and records the shipper position.
func (l *ShipperLocator) SafeUpdateShipper(ctx context.Context, shipperID int64, lng, lat float64) error {
	if shipperID <= 0 {
		return fmt.Errorf("SafeUpdateShipper: invalid shipper id %d", shipperID)
	}
	if err := validateCoords(lng, lat); err != nil {
		return fmt.Errorf("SafeUpdateShipper: %w", err)
	}
	mem := memberName(shipperID)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.GeoAdd(ctx, l.geoKey(), &redis.GeoLocation{Name: mem, Longitude: lng, Latitude: lat})
		p.HSet(ctx, l.seenKey(), mem, time.Now().UnixMilli())
		return nil
	})
	if err != nil {
		return err
	}
	if l.logger != nil {
		l.logger.Infof("shipper GeoAdd OK shipper=%d city=%s lng=%.6f lat=%.6f", shipperID, l.city, lng, lat)
	}
	return nil
}

// Position returns the last known position of a shipper, or nil when none
// is stored.
func (l *ShipperLocator) Position(ctx context.Context, shipperID int64) (*model.Position, error) {
	mem := memberName(shipperID)
	pos, err := l.rdb.GeoPos(ctx, l.geoKey(), mem).Result()
	if err != nil {
		return nil, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return nil, nil
	}
	out := &model.Position{Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	ms, err := l.rdb.HGet(ctx, l.seenKey(), mem).Int64()
	switch {
	case err == nil:
		out.At = time.UnixMilli(ms)
	case !errors.Is(err, redis.Nil):
		return nil, err
	}
	return out, nil
}

// GoOffline forgets the shipper position.
func (l *ShipperLocator) GoOffline(ctx context.Context, shipperID int64) error {
	mem := memberName(shipperID)
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, l.geoKey(), mem)
		p.HDel(ctx, l.seenKey(), mem)
		return nil
	})
	return err
}

// Nearby returns shippers within radius sorted by distance.
func (l *ShipperLocator) Nearby(ctx context.Context, lng, lat float64, radiusMeters float64, limit int) ([]NearbyShipper, error) {
	res, err := l.rdb.GeoSearchLocation(ctx, l.geoKey(), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]NearbyShipper, 0, len(res))
	for _, item := range res {
		id, err := parseShipperMember(item.Name)
		if err != nil {
			if l.logger != nil {
				l.logger.Errorf("shipper Nearby: skip invalid member %s: %v", item.Name, err)
			}
			continue
		}
		out = append(out, NearbyShipper{ID: id, Dist: item.Dist, Lng: item.Longitude, Lat: item.Latitude})
	}
	return out, nil
}
