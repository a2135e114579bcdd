package store

import (
	"context"
	"time"
)

// Summary aggregates stored results for trend reporting.
type Summary struct {
	Scanned    int
	Active     int
	Inactive   int
	AvgLatency *float64
	MinLatency *float64
	MaxLatency *float64
	LastScan   *time.Time
}

const summarySelect = `
	SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE is_active),
		COUNT(*) FILTER (WHERE NOT is_active),
		AVG(latency_ms)::float8,
		MIN(latency_ms)::float8,
		MAX(latency_ms)::float8,
		MAX(scan_timestamp)
	FROM ping_results
`

// RunSummary aggregates the rows of a single scan.
func (s *Store) RunSummary(ctx context.Context, scanTimestamp time.Time) (Summary, error) {
	return s.summary(ctx, summarySelect+` WHERE scan_timestamp = $1`, scanTimestamp.UTC())
}

// RecentSummary aggregates every row scanned at or after since.
func (s *Store) RecentSummary(ctx context.Context, since time.Time) (Summary, error) {
	return s.summary(ctx, summarySelect+` WHERE scan_timestamp >= $1`, since.UTC())
}

func (s *Store) summary(ctx context.Context, query string, arg time.Time) (Summary, error) {
	var sum Summary
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&sum.Scanned,
		&sum.Active,
		&sum.Inactive,
		&sum.AvgLatency,
		&sum.MinLatency,
		&sum.MaxLatency,
		&sum.LastScan,
	)
	return sum, err
}
