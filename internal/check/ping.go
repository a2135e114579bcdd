package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"time"
)

// ErrSpawn is returned when the ping executable could not be started.
var ErrSpawn = errors.New("probe spawn failed")

const (
	defaultBinary = "ping"
	defaultGrace  = time.Second
	// waitDelay bounds how long Wait keeps draining output after the
	// process was killed.
	waitDelay = 500 * time.Millisecond
)

// Status is the coarse result of one ping run.
type Status int

const (
	StatusReply Status = iota
	StatusNoReply
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusReply:
		return "reply"
	case StatusNoReply:
		return "no_reply"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Raw is the captured output of one ping run.
type Raw struct {
	Output  string
	Status  Status
	Elapsed time.Duration
}

// Runner runs the system ping executable, one process per address.
type Runner struct {
	// Binary is the ping executable; "ping" when empty.
	Binary  string
	Dialect Dialect
	// Grace is added to the reply timeout to get the hard deadline after
	// which the process is killed. One second when zero.
	Grace time.Duration
}

// NewRunner returns a Runner for the given dialect using the ping found on PATH.
func NewRunner(d Dialect) *Runner {
	return &Runner{Binary: defaultBinary, Dialect: d, Grace: defaultGrace}
}

// Run sends a single echo request to addr and waits up to timeout for the
// reply. A probe that outlives its deadline is killed and reported as
// StatusTimeout, not as an error. Errors are ErrSpawn when the process cannot
// be started, or ctx's error when ctx was cancelled first.
func (r *Runner) Run(ctx context.Context, addr netip.Addr, timeout time.Duration) (Raw, error) {
	binary := r.Binary
	if binary == "" {
		binary = defaultBinary
	}
	grace := r.Grace
	if grace <= 0 {
		grace = defaultGrace
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout+grace)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(probeCtx, binary, r.Dialect.Args(addr, timeout)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	raw := Raw{Output: out.String(), Elapsed: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		raw.Status = StatusReply
	case ctx.Err() != nil:
		return raw, ctx.Err()
	case errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		raw.Status = StatusTimeout
	case errors.As(err, &exitErr):
		raw.Status = StatusNoReply
	default:
		return raw, fmt.Errorf("%w: %s %s: %v", ErrSpawn, binary, addr, err)
	}
	return raw, nil
}
