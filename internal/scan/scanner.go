// Package scan sweeps a range of addresses with a bounded pool of probes and
// hands every result to a sink.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tmater/pingsweep/internal/check"
	"github.com/tmater/pingsweep/internal/netrange"
	"github.com/tmater/pingsweep/internal/proto"
)

// Runner executes one probe. *check.Runner implements it.
type Runner interface {
	Run(ctx context.Context, addr netip.Addr, timeout time.Duration) (check.Raw, error)
}

// Sink receives every result of a scan. *store.Store implements it.
// Upsert errors wrapping proto.ErrDuplicate are counted as duplicates.
type Sink interface {
	Upsert(ctx context.Context, r proto.ProbeResult) error
}

// Run describes one sweep. Every result it produces shares Timestamp.
type Run struct {
	Range     netrange.Range
	Workers   int
	Timeout   time.Duration
	Timestamp time.Time
}

// NewRun stamps a sweep with the current time. The timestamp is kept in UTC
// at microsecond precision so it survives a round trip through PostgreSQL.
func NewRun(r netrange.Range, workers int, timeout time.Duration) Run {
	return Run{
		Range:     r,
		Workers:   workers,
		Timeout:   timeout,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Scanner fans the addresses of a Run out to at most Run.Workers concurrent
// probes and writes results from a single goroutine.
type Scanner struct {
	runner    Runner
	parser    check.Parser
	sink      Sink
	reporter  Reporter
	log       logrus.FieldLogger
	hostsOnly bool
}

type Option func(*Scanner)

// WithReporter sets the progress reporter called after every result.
func WithReporter(r Reporter) Option {
	return func(s *Scanner) { s.reporter = r }
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scanner) { s.log = l }
}

// WithHostsOnly skips the network and broadcast addresses of the range.
func WithHostsOnly(on bool) Option {
	return func(s *Scanner) { s.hostsOnly = on }
}

// New returns a Scanner. The parser must match the dialect the runner uses.
func New(runner Runner, parser check.Parser, sink Sink, opts ...Option) *Scanner {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Scanner{
		runner:   runner,
		parser:   parser,
		sink:     sink,
		reporter: nopReporter{},
		log:      discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan probes every address of run exactly once. Per-address failures,
// including sink write errors, are counted in the summary and never stop the
// sweep. When ctx is cancelled no new probes start, in-flight probes are
// killed and not recorded, and Scan returns the partial summary with ctx's
// error.
func (s *Scanner) Scan(ctx context.Context, run Run) (Summary, error) {
	if run.Workers <= 0 {
		return Summary{}, fmt.Errorf("scan: workers must be positive, got %d", run.Workers)
	}
	if run.Timeout <= 0 {
		return Summary{}, fmt.Errorf("scan: timeout must be positive")
	}

	addrs, total := s.addresses(run.Range)
	sum := Summary{
		Range:         run.Range.String(),
		ScanTimestamp: run.Timestamp,
		Total:         total,
	}
	started := time.Now()

	s.log.WithFields(logrus.Fields{
		"range":   sum.Range,
		"total":   total,
		"workers": run.Workers,
		"timeout": run.Timeout,
	}).Info("scan starting")

	results := make(chan proto.ProbeResult, run.Workers)

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(run.Workers)
		for addr := range addrs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if r, ok := s.probe(ctx, addr, run); ok {
					results <- r
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	for r := range results {
		s.record(ctx, r, &sum)
		s.reporter.Progress(sum.Probed, total)
	}

	sum.Skipped = total - sum.Probed
	sum.Duration = time.Since(started)

	if err := ctx.Err(); err != nil {
		s.log.WithFields(logrus.Fields{
			"probed":  sum.Probed,
			"skipped": sum.Skipped,
		}).Warn("scan interrupted")
		return sum, err
	}
	return sum, nil
}

func (s *Scanner) addresses(r netrange.Range) (iter.Seq[netip.Addr], int) {
	if s.hostsOnly {
		return r.Hosts(), int(r.HostLen())
	}
	return r.All(), int(r.Len())
}

// probe runs and parses one address. ok is false only when the scan was
// cancelled before the probe finished.
func (s *Scanner) probe(ctx context.Context, addr netip.Addr, run Run) (proto.ProbeResult, bool) {
	raw, err := s.runner.Run(ctx, addr, run.Timeout)
	if ctx.Err() != nil {
		return proto.ProbeResult{}, false
	}

	log := s.log.WithField("ip", addr.String())
	if err != nil {
		if !errors.Is(err, check.ErrSpawn) {
			err = fmt.Errorf("%w: %v", check.ErrSpawn, err)
		}
		log.WithError(err).Warn("probe could not run")
		return proto.NoReply(addr, run.Timestamp, proto.OutcomeSpawnError), true
	}

	switch raw.Status {
	case check.StatusTimeout:
		log.Debug("probe timed out")
		return proto.NoReply(addr, run.Timestamp, proto.OutcomeTimeout), true
	case check.StatusNoReply:
		log.Debug("host inactive")
		return proto.NoReply(addr, run.Timestamp, proto.OutcomeNoReply), true
	}

	m := s.parser.Parse(raw.Output)
	if m.Received == 0 {
		log.WithField("output", raw.Output).Debug("reply not recognised in probe output")
		return proto.NoReply(addr, run.Timestamp, proto.OutcomeUnparsed), true
	}

	r := proto.NewProbeResult(addr, run.Timestamp, proto.OutcomeReply, m)
	entry := log
	if r.LatencyMS != nil {
		entry = entry.WithField("latency_ms", *r.LatencyMS)
	}
	if r.TTL != nil {
		entry = entry.WithField("ttl", *r.TTL)
	}
	entry.Info("host active")
	return r, true
}

// record writes r to the sink and folds it into sum. It runs on the single
// writer goroutine.
func (s *Scanner) record(ctx context.Context, r proto.ProbeResult, sum *Summary) {
	sum.Probed++
	switch {
	case r.IsActive:
		sum.Active++
	case r.Outcome == proto.OutcomeSpawnError:
		sum.SpawnErrors++
		sum.Inactive++
	default:
		sum.Inactive++
	}

	// Results already probed are written even if the scan is being
	// cancelled; they stay committed.
	err := s.sink.Upsert(context.WithoutCancel(ctx), r)
	if err == nil {
		return
	}
	sum.WriteFailures++
	if errors.Is(err, proto.ErrDuplicate) {
		sum.Duplicates++
	}
	s.log.WithFields(logrus.Fields{
		"ip":             r.Address.String(),
		"scan_timestamp": r.ScanTimestamp,
	}).WithError(err).Error("failed to save result")
}
