// Package netrange expands an IPv4 CIDR block into the addresses a scan
// visits.
package netrange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"net/netip"
	"strings"
)

// ErrInvalidRange is returned for input that is not an IPv4 CIDR block or
// address.
var ErrInvalidRange = errors.New("invalid range")

// Range is an IPv4 block with its host bits cleared.
type Range struct {
	prefix netip.Prefix
}

// Parse accepts "a.b.c.d/n" or a bare IPv4 address, which is treated as a /32.
// Host bits are masked off, so "192.168.1.77/24" yields 192.168.1.0/24.
func Parse(cidr string) (Range, error) {
	s := strings.TrimSpace(cidr)
	if s == "" {
		return Range{}, fmt.Errorf("%w: empty input", ErrInvalidRange)
	}

	var prefix netip.Prefix
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, cidr, err)
		}
		prefix = p
	} else {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, cidr, err)
		}
		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	if !prefix.Addr().Is4() {
		return Range{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidRange, cidr)
	}
	return Range{prefix: prefix.Masked()}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(cidr string) Range {
	r, err := Parse(cidr)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Range) Prefix() netip.Prefix { return r.prefix }

func (r Range) String() string { return r.prefix.String() }

// Len is the number of addresses in the block, network and broadcast included.
func (r Range) Len() uint64 {
	if !r.prefix.IsValid() {
		return 0
	}
	return 1 << (32 - r.prefix.Bits())
}

// HostLen is the number of addresses Hosts yields.
func (r Range) HostLen() uint64 {
	n := r.Len()
	if r.hasReserved() {
		return n - 2
	}
	return n
}

// All yields every address of the block in ascending order. Each call starts
// a fresh sequence.
func (r Range) All() iter.Seq[netip.Addr] {
	return r.span(0, r.Len())
}

// Hosts is like All but leaves out the network and broadcast addresses of
// blocks larger than /31.
func (r Range) Hosts() iter.Seq[netip.Addr] {
	if r.hasReserved() {
		return r.span(1, r.Len()-2)
	}
	return r.All()
}

func (r Range) hasReserved() bool {
	return r.prefix.IsValid() && r.prefix.Bits() < 31
}

func (r Range) span(offset, count uint64) iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		if count == 0 {
			return
		}
		b := r.prefix.Addr().As4()
		base := uint64(binary.BigEndian.Uint32(b[:])) + offset
		for i := range count {
			var out [4]byte
			binary.BigEndian.PutUint32(out[:], uint32(base+i))
			if !yield(netip.AddrFrom4(out)) {
				return
			}
		}
	}
}
