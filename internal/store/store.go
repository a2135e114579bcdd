package store

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmater/pingsweep/internal/config"
	"github.com/tmater/pingsweep/internal/proto"
)

var (
	// ErrConnect means the database could not be reached at all.
	ErrConnect = errors.New("store: connect failed")
	// Per-record write errors, shared with every Sink.
	ErrDuplicate  = proto.ErrDuplicate
	ErrConnection = proto.ErrSinkConnection
)

const defaultWriteTimeout = 5 * time.Second

// Store persists probe results to PostgreSQL.
type Store struct {
	pool         *pgxpool.Pool
	writeTimeout time.Duration
}

// Connect opens a connection pool and verifies it with a ping. The pool size
// is independent of the scan's worker count.
func Connect(ctx context.Context, cfg config.Database) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", ErrConnect, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Store{pool: pool, writeTimeout: writeTimeout}, nil
}

// Upsert stores one probe result. A second write for the same address and
// scan timestamp returns ErrDuplicate and leaves the first row untouched.
func (s *Store) Upsert(ctx context.Context, r proto.ProbeResult) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ping_results (
			ip_address, packets_sent, packets_received,
			packet_loss_percentage, latency_ms, is_active,
			scan_timestamp, response_time, ttl
		) VALUES ($1::inet, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		r.Address.String(),
		r.PacketsSent,
		r.PacketsReceived,
		r.PacketLossPercentage,
		r.LatencyMS,
		r.IsActive,
		r.ScanTimestamp.UTC(),
		r.ResponseTime,
		r.TTL,
	)
	if err != nil {
		return classify(r.Address, err)
	}
	return nil
}

func classify(addr netip.Addr, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("store: %w: %s", ErrDuplicate, addr)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return fmt.Errorf("store: %w: %s: %v", ErrConnection, addr, err)
		default:
			return fmt.Errorf("store: insert %s: %w", addr, err)
		}
	}
	// No server response: network failure, timeout or a closed pool.
	return fmt.Errorf("store: %w: %s: %v", ErrConnection, addr, err)
}

// ResultsForScan returns every row written for one scan, ordered by address.
func (s *Store) ResultsForScan(ctx context.Context, scanTimestamp time.Time) ([]proto.ProbeResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT host(ip_address), packets_sent, packets_received,
		       packet_loss_percentage::float8, latency_ms::float8, is_active,
		       scan_timestamp, response_time::float8, ttl
		FROM ping_results
		WHERE scan_timestamp = $1
		ORDER BY ip_address
	`, scanTimestamp.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []proto.ProbeResult
	for rows.Next() {
		var r proto.ProbeResult
		var ip string
		if err := rows.Scan(&ip, &r.PacketsSent, &r.PacketsReceived,
			&r.PacketLossPercentage, &r.LatencyMS, &r.IsActive,
			&r.ScanTimestamp, &r.ResponseTime, &r.TTL); err != nil {
			return nil, err
		}
		if r.Address, err = netip.ParseAddr(ip); err != nil {
			return nil, fmt.Errorf("store: bad address %q: %w", ip, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// EvictOldResults deletes rows scanned before cutoff and reports how many
// were removed.
func (s *Store) EvictOldResults(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ping_results WHERE scan_timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}
