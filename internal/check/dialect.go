package check

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"time"
)

// Dialect identifies which flavour of the system ping produced an output.
// It is chosen once for the host platform.
type Dialect int

const (
	// DialectUnix is iputils/busybox ping: -W takes seconds.
	DialectUnix Dialect = iota
	// DialectBSD is the darwin/freebsd ping: -W takes milliseconds.
	DialectBSD
	// DialectWindows is ping.exe: -n count, -w milliseconds.
	DialectWindows
)

func (d Dialect) String() string {
	switch d {
	case DialectUnix:
		return "unix"
	case DialectBSD:
		return "bsd"
	case DialectWindows:
		return "windows"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// DetectDialect maps a GOOS value to the ping dialect shipped with it.
func DetectDialect(goos string) Dialect {
	switch goos {
	case "windows":
		return DialectWindows
	case "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
		return DialectBSD
	default:
		return DialectUnix
	}
}

// Args builds the arguments for a single echo request to addr that waits at
// most timeout for the reply.
func (d Dialect) Args(addr netip.Addr, timeout time.Duration) []string {
	switch d {
	case DialectWindows:
		return []string{"-n", "1", "-w", strconv.FormatInt(millis(timeout), 10), addr.String()}
	case DialectBSD:
		return []string{"-c", "1", "-W", strconv.FormatInt(millis(timeout), 10), addr.String()}
	default:
		// iputils only accepts whole seconds on older releases.
		secs := int64(math.Ceil(timeout.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return []string{"-c", "1", "-W", strconv.FormatInt(secs, 10), addr.String()}
	}
}

func millis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
