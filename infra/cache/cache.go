// Package cache keeps the station table and the latest inference results in
// Redis so API replicas and CLI runs share them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/bikeflow/core/flow"
	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Config defines the Redis connection.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	// StationTTL is a Go duration; the station table is refreshed after it expires.
	StationTTL string `json:"station_ttl"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = "bikeflow"
	}
	if c.StationTTL == "" {
		c.StationTTL = "1h"
	}
}

// Enabled reports whether an address is configured.
func (c Config) Enabled() bool { return c.Addr != "" }

// Validate checks the TTL.
func (c Config) Validate() error {
	if c.StationTTL == "" {
		return nil
	}
	if _, err := time.ParseDuration(c.StationTTL); err != nil {
		return fmt.Errorf("station_ttl: %w", err)
	}
	return nil
}

// Cache is a Redis-backed result cache.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl, _ := time.ParseDuration(cfg.StationTTL)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, prefix: cfg.Prefix, ttl: ttl}, nil
}

func (c *Cache) key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// PutStations stores the station table with the configured TTL.
func (c *Cache) PutStations(ctx context.Context, stations []model.Station) error {
	b, err := json.Marshal(stations)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key("stations"), b, c.ttl).Err()
}

// Stations returns the cached station table or ErrMiss.
func (c *Cache) Stations(ctx context.Context) ([]model.Station, error) {
	var out []model.Station
	if err := c.getJSON(ctx, c.key("stations"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutLatest stores msg as the latest result and adds to the cumulative pair
// ranking the flows of buckets later than the stored high-water mark.
// Concurrent writers are serialised with WATCH on the mark.
func (c *Cache) PutLatest(ctx context.Context, msg publish.RunMessage, flows []model.Flow) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	markKey := c.key("od", "through")
	txf := func(tx *redis.Tx) error {
		var through time.Time
		s, err := tx.Get(ctx, markKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if through, err = time.Parse(time.RFC3339Nano, s); err != nil {
				return fmt.Errorf("od high-water mark: %w", err)
			}
		}
		fresh, mark := newBuckets(flows, through, msg.To)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key("flows", "latest"), b, 0)
			for _, r := range flow.Aggregate(fresh) {
				pipe.ZIncrBy(ctx, c.key("od", "total"), float64(r.Count), pairMember(r.Origin, r.Destination))
			}
			if !mark.IsZero() {
				pipe.Set(ctx, markKey, mark.UTC().Format(time.RFC3339Nano), 0)
			}
			return nil
		})
		return err
	}
	for range 3 {
		err = c.rdb.Watch(ctx, txf, markKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Latest returns the most recent result or ErrMiss.
func (c *Cache) Latest(ctx context.Context) (publish.RunMessage, error) {
	var msg publish.RunMessage
	err := c.getJSON(ctx, c.key("flows", "latest"), &msg)
	return msg, err
}

// TopPairs returns the n pairs with the most bikes accumulated across runs,
// all of them when n <= 0.
func (c *Cache) TopPairs(ctx context.Context, n int) ([]model.ODRow, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	zs, err := c.rdb.ZRevRangeWithScores(ctx, c.key("od", "total"), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]model.ODRow, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		o, d, ok := splitPair(member)
		if !ok {
			continue
		}
		rows = append(rows, model.ODRow{Origin: o, Destination: d, Count: int(z.Score)})
	}
	return rows, nil
}

// Close closes the client.
func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) getJSON(ctx context.Context, key string, v any) error {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

const pairSep = "\x1f"

func pairMember(origin, destination string) string { return origin + pairSep + destination }

func splitPair(m string) (string, string, bool) {
	return strings.Cut(m, pairSep)
}
