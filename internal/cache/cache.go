package cache

import (
	"context"
	"time"
)

// ReportCache holds pre-serialized report payloads. Reports are aggregates
// over the whole document table, so a short TTL keeps the dashboard cheap
// without serving stale numbers for long.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
