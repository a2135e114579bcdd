package scan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmater/pingsweep/internal/check"
	"github.com/tmater/pingsweep/internal/netrange"
	"github.com/tmater/pingsweep/internal/proto"
)

// fakeRunner answers probes from a function and tracks concurrency.
type fakeRunner struct {
	fn       func(ctx context.Context, addr netip.Addr) (check.Raw, error)
	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeRunner) Run(ctx context.Context, addr netip.Addr, _ time.Duration) (check.Raw, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	return f.fn(ctx, addr)
}

func timeoutRunner() *fakeRunner {
	return &fakeRunner{fn: func(context.Context, netip.Addr) (check.Raw, error) {
		return check.Raw{Status: check.StatusTimeout}, nil
	}}
}

// memSink mimics the uniqueness constraint of the ping_results table.
type memSink struct {
	mu   sync.Mutex
	rows map[string]proto.ProbeResult
	fail func(proto.ProbeResult) error
}

func newMemSink() *memSink {
	return &memSink{rows: make(map[string]proto.ProbeResult)}
}

func (m *memSink) Upsert(_ context.Context, r proto.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		if err := m.fail(r); err != nil {
			return err
		}
	}
	key := r.Address.String() + "|" + r.ScanTimestamp.Format(time.RFC3339Nano)
	if _, ok := m.rows[key]; ok {
		return fmt.Errorf("%w: %s", proto.ErrDuplicate, r.Address)
	}
	m.rows[key] = r
	return nil
}

func (m *memSink) all() []proto.ProbeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proto.ProbeResult, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out
}

func testRun(cidr string, workers int) Run {
	return NewRun(netrange.MustParse(cidr), workers, 50*time.Millisecond)
}

func TestScan_AllProbesFail(t *testing.T) {
	sink := newMemSink()
	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), sink)

	run := testRun("10.0.0.0/30", 2)
	sum, err := s.Scan(context.Background(), run)
	require.NoError(t, err)

	rows := sink.all()
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.False(t, r.IsActive, "%s", r.Address)
		assert.Equal(t, 100.0, r.PacketLossPercentage)
		assert.Equal(t, 1, r.PacketsSent)
		assert.Nil(t, r.LatencyMS)
		assert.Nil(t, r.TTL)
		assert.True(t, r.ScanTimestamp.Equal(run.Timestamp))
	}

	assert.Equal(t, 4, sum.Total)
	assert.Equal(t, 4, sum.Probed)
	assert.Equal(t, 4, sum.Inactive)
	assert.Zero(t, sum.Active)
	assert.Zero(t, sum.WriteFailures)
	assert.Zero(t, sum.Skipped)
}

func TestScan_LivenessWithBoundedWorkers(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, netip.Addr) (check.Raw, error) {
		time.Sleep(time.Millisecond)
		return check.Raw{Status: check.StatusTimeout}, nil
	}}
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)
	run := NewRun(netrange.MustParse("10.1.0.0/26"), 4, 10*time.Millisecond)

	done := make(chan struct{})
	var sum Summary
	var err error
	go func() {
		defer close(done)
		sum, err = s.Scan(context.Background(), run)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("scan did not finish")
	}
	require.NoError(t, err)
	assert.Equal(t, 64, sum.Probed)
	assert.Len(t, sink.all(), 64)
	assert.Equal(t, int64(64), runner.calls.Load())
	assert.LessOrEqual(t, runner.maxSeen.Load(), int64(4))
}

func TestScan_FiftyAddressesFourWorkers(t *testing.T) {
	runner := timeoutRunner()
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)

	// 32 + 16 + 1 + 1 addresses.
	probed := 0
	for _, cidr := range []string{"10.2.0.0/27", "10.2.1.0/28", "10.2.2.1/32", "10.2.2.2/32"} {
		sum, err := s.Scan(context.Background(), NewRun(netrange.MustParse(cidr), 4, time.Millisecond))
		require.NoError(t, err)
		probed += sum.Probed
	}

	assert.Equal(t, 50, probed)
	assert.Len(t, sink.all(), 50)
	assert.LessOrEqual(t, runner.maxSeen.Load(), int64(4))
}

func TestScan_ReplyIsParsed(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, addr netip.Addr) (check.Raw, error) {
		if addr == netip.MustParseAddr("10.0.0.1") {
			return check.Raw{
				Status: check.StatusReply,
				Output: "64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=12.3 ms\n1 packets transmitted, 1 received, 0% packet loss",
			}, nil
		}
		return check.Raw{Status: check.StatusNoReply, Output: "1 packets transmitted, 0 received"}, nil
	}}
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)

	sum, err := s.Scan(context.Background(), testRun("10.0.0.0/30", 4))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Active)
	assert.Equal(t, 3, sum.Inactive)

	for _, r := range sink.all() {
		if r.Address.String() != "10.0.0.1" {
			assert.False(t, r.IsActive)
			continue
		}
		assert.True(t, r.IsActive)
		assert.Equal(t, 0.0, r.PacketLossPercentage)
		require.NotNil(t, r.LatencyMS)
		assert.Equal(t, 12.3, *r.LatencyMS)
		require.NotNil(t, r.ResponseTime)
		assert.Equal(t, 12.3, *r.ResponseTime)
		require.NotNil(t, r.TTL)
		assert.Equal(t, 64, *r.TTL)
	}
}

func TestScan_UnparsedReplyIsInactive(t *testing.T) {
	runner := &fakeRunner{fn: func(context.Context, netip.Addr) (check.Raw, error) {
		return check.Raw{Status: check.StatusReply, Output: "garbled \x00 output"}, nil
	}}
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)

	_, err := s.Scan(context.Background(), testRun("10.0.0.7/32", 1))
	require.NoError(t, err)

	rows := sink.all()
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsActive)
	assert.Equal(t, proto.OutcomeUnparsed, rows[0].Outcome)
}

func TestScan_SpawnErrorIsRecorded(t *testing.T) {
	runner := &fakeRunner{fn: func(_ context.Context, addr netip.Addr) (check.Raw, error) {
		if addr == netip.MustParseAddr("10.0.0.2") {
			return check.Raw{}, fmt.Errorf("%w: exec: \"ping\": executable file not found", check.ErrSpawn)
		}
		return check.Raw{Status: check.StatusTimeout}, nil
	}}
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)

	sum, err := s.Scan(context.Background(), testRun("10.0.0.0/30", 2))
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Probed)
	assert.Equal(t, 1, sum.SpawnErrors)

	rows := sink.all()
	require.Len(t, rows, 4)
	for _, r := range rows {
		if r.Address.String() == "10.0.0.2" {
			assert.Equal(t, proto.OutcomeSpawnError, r.Outcome)
			assert.False(t, r.IsActive)
			assert.Nil(t, r.LatencyMS)
			assert.Nil(t, r.ResponseTime)
			assert.Nil(t, r.TTL)
		}
	}
}

func TestScan_SinkFailuresDoNotStopScan(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	sink := newMemSink()
	sink.fail = func(r proto.ProbeResult) error {
		if r.Address.String() == "10.0.0.1" {
			return fmt.Errorf("%w: broken pipe", proto.ErrSinkConnection)
		}
		return nil
	}

	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), sink, WithLogger(logger))
	sum, err := s.Scan(context.Background(), testRun("10.0.0.0/30", 2))
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Probed)
	assert.Equal(t, 1, sum.WriteFailures)
	assert.Zero(t, sum.Duplicates)
	assert.Len(t, sink.all(), 3)

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["ip"] == "10.0.0.1" {
			logged = true
			assert.ErrorIs(t, e.Data[logrus.ErrorKey].(error), proto.ErrSinkConnection)
		}
	}
	assert.True(t, logged, "expected the failed write to be logged")
}

func TestScan_SameRunTwiceIsIdempotent(t *testing.T) {
	sink := newMemSink()
	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), sink)
	run := testRun("10.0.0.0/30", 4)

	first, err := s.Scan(context.Background(), run)
	require.NoError(t, err)
	assert.Zero(t, first.WriteFailures)

	second, err := s.Scan(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, 4, second.WriteFailures)
	assert.Equal(t, 4, second.Duplicates)
	assert.Len(t, sink.all(), 4)
}

func TestScan_ReporterSeesEveryResult(t *testing.T) {
	var seen []int
	reporter := ReporterFunc(func(probed, total int) {
		assert.Equal(t, 8, total)
		seen = append(seen, probed)
	})
	sink := newMemSink()
	sink.fail = func(r proto.ProbeResult) error {
		if r.Address.String() == "10.0.0.3" {
			return errors.New("disk full")
		}
		return nil
	}

	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), sink, WithReporter(reporter))
	_, err := s.Scan(context.Background(), testRun("10.0.0.0/29", 3))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, seen)
}

func TestScan_HostsOnly(t *testing.T) {
	sink := newMemSink()
	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), sink, WithHostsOnly(true))

	sum, err := s.Scan(context.Background(), testRun("10.0.0.0/29", 2))
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Total)

	for _, r := range sink.all() {
		assert.NotEqual(t, "10.0.0.0", r.Address.String())
		assert.NotEqual(t, "10.0.0.7", r.Address.String())
	}
}

func TestScan_CancelStopsNewProbes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int64
	runner := &fakeRunner{fn: func(ctx context.Context, _ netip.Addr) (check.Raw, error) {
		if started.Add(1) == 3 {
			cancel()
		}
		<-ctx.Done()
		return check.Raw{}, ctx.Err()
	}}
	sink := newMemSink()
	s := New(runner, check.ParserFor(check.DialectUnix), sink)

	sum, err := s.Scan(ctx, testRun("10.0.0.0/24", 3))
	require.ErrorIs(t, err, context.Canceled)

	assert.LessOrEqual(t, runner.calls.Load(), int64(4))
	assert.Empty(t, sink.all(), "probes killed by cancellation must not be written")
	assert.Equal(t, 256, sum.Total)
	assert.Equal(t, 256, sum.Skipped)
}

func TestScan_CancelKeepsCompletedResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newMemSink()
	sink.fail = func(r proto.ProbeResult) error {
		if r.Address.String() == "10.0.0.1" {
			cancel()
		}
		return nil
	}
	runner := &fakeRunner{fn: func(ctx context.Context, addr netip.Addr) (check.Raw, error) {
		if ctx.Err() != nil {
			return check.Raw{}, ctx.Err()
		}
		return check.Raw{Status: check.StatusNoReply}, nil
	}}

	s := New(runner, check.ParserFor(check.DialectUnix), sink)
	sum, err := s.Scan(ctx, testRun("10.0.0.0/16", 1))
	require.ErrorIs(t, err, context.Canceled)

	assert.GreaterOrEqual(t, len(sink.all()), 2)
	assert.Less(t, sum.Probed, sum.Total)
	assert.Equal(t, sum.Total-sum.Probed, sum.Skipped)
}

func TestScan_InvalidRun(t *testing.T) {
	s := New(timeoutRunner(), check.ParserFor(check.DialectUnix), newMemSink())

	_, err := s.Scan(context.Background(), Run{Range: netrange.MustParse("10.0.0.0/30"), Workers: 0, Timeout: time.Second})
	assert.Error(t, err)

	_, err = s.Scan(context.Background(), Run{Range: netrange.MustParse("10.0.0.0/30"), Workers: 1})
	assert.Error(t, err)
}

func TestNewRun_TimestampPrecision(t *testing.T) {
	run := NewRun(netrange.MustParse("10.0.0.0/30"), 1, time.Second)
	assert.Equal(t, time.UTC, run.Timestamp.Location())
	assert.Zero(t, run.Timestamp.Nanosecond()%1000)
}
