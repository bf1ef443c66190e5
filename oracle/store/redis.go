package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of Store[F].
//
// Responses are kept in one list per scan and reports as JSON strings,
// indexed by creation time in sorted sets (one global, one per attack).
// Use WithTTL to let scan results expire.
type RedisStore[F any] struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithTTL sets the expiration of stored scans. Default: none.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default: "handshake:".
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore[F any](address, password string, db int, opts ...RedisOption) *RedisStore[F] {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient[F](client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient[F any](client *backend.Client, opts ...RedisOption) *RedisStore[F] {
	o := redisOptions{prefix: "handshake:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[F]{client: client, prefix: o.prefix, ttl: o.ttl}
}

func (r *RedisStore[F]) responsesKey(scanID string) string {
	return r.prefix + "scan:" + scanID + ":responses"
}

func (r *RedisStore[F]) reportKey(scanID string) string {
	return r.prefix + "scan:" + scanID + ":report"
}

func (r *RedisStore[F]) indexKey(attack string) string {
	if attack == "" {
		return r.prefix + "reports"
	}
	return r.prefix + "reports:" + attack
}

// SaveResponses appends responses to the scan's list.
func (r *RedisStore[F]) SaveResponses(ctx context.Context, scanID string, responses []ResponseRecord[F]) error {
	if len(responses) == 0 {
		return nil
	}
	values := make([]interface{}, len(responses))
	for i, resp := range responses {
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("failed to marshal response %q: %w", resp.Vector, err)
		}
		values[i] = data
	}

	pipe := r.client.Pipeline()
	pipe.RPush(ctx, r.responsesKey(scanID), values...)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.responsesKey(scanID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save responses to redis: %w", err)
	}
	return nil
}

// LoadResponses returns the responses of a scan in insertion order.
func (r *RedisStore[F]) LoadResponses(ctx context.Context, scanID string) ([]ResponseRecord[F], error) {
	values, err := r.client.LRange(ctx, r.responsesKey(scanID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load responses from redis: %w", err)
	}
	out := make([]ResponseRecord[F], 0, len(values))
	for _, v := range values {
		var resp ResponseRecord[F]
		if err := json.Unmarshal([]byte(v), &resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		out = append(out, resp)
	}
	return out, nil
}

// SaveReport stores a report and indexes it by creation time.
func (r *RedisStore[F]) SaveReport(ctx context.Context, report ReportRecord) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	score := float64(report.CreatedAt.UnixMilli())
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.reportKey(report.ScanID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(""), backend.Z{Score: score, Member: report.ScanID})
	if report.Attack != "" {
		pipe.ZAdd(ctx, r.indexKey(report.Attack), backend.Z{Score: score, Member: report.ScanID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save report to redis: %w", err)
	}
	return nil
}

// LoadReport returns the report of a scan.
func (r *RedisStore[F]) LoadReport(ctx context.Context, scanID string) (ReportRecord, error) {
	val, err := r.client.Get(ctx, r.reportKey(scanID)).Result()
	if errors.Is(err, backend.Nil) {
		return ReportRecord{}, ErrNotFound
	}
	if err != nil {
		return ReportRecord{}, fmt.Errorf("failed to get report from redis: %w", err)
	}
	var report ReportRecord
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return ReportRecord{}, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return report, nil
}

// ListReports returns reports newest first. Index entries whose report
// expired are pruned lazily.
func (r *RedisStore[F]) ListReports(ctx context.Context, attack string, limit int) ([]ReportRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	index := r.indexKey(attack)

	ids, err := r.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	out := make([]ReportRecord, 0, len(ids))
	for _, id := range ids {
		report, err := r.LoadReport(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.ZRem(ctx, index, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

// Close closes the redis client.
func (r *RedisStore[F]) Close() error {
	return r.client.Close()
}
