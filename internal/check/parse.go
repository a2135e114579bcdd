package check

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tmater/pingsweep/internal/proto"
)

// Parser turns the raw text of one ping run into metrics. Implementations
// never fail: output they do not recognise yields zero received packets.
type Parser interface {
	Parse(raw string) proto.Metrics
}

// ParserFor returns the parser for output produced by dialect d.
func ParserFor(d Dialect) Parser {
	if d == DialectWindows {
		return windowsParser
	}
	return unixParser
}

// Parse is shorthand for ParserFor(d).Parse(raw).
func Parse(d Dialect, raw string) proto.Metrics {
	return ParserFor(d).Parse(raw)
}

// linePatterns holds the phrase fragments of one dialect.
type linePatterns struct {
	// reply matches a line reporting an echo reply.
	reply *regexp.Regexp
	rtt   *regexp.Regexp
	ttl   *regexp.Regexp
	// summary captures packets sent and received from the statistics line.
	summary *regexp.Regexp
	// countSummary lets the statistics line stand in for missing reply lines.
	// ping.exe counts "Destination host unreachable" as received, so the
	// windows dialect only believes reply lines.
	countSummary bool
}

var (
	// 64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=12.3 ms
	// 1 packets transmitted, 1 received, 0% packet loss, time 0ms
	unixParser = &linePatterns{
		reply:        regexp.MustCompile(`\bbytes from\b`),
		rtt:          regexp.MustCompile(`\btime[=<]\s*([0-9]+(?:\.[0-9]+)?)\s*ms\b`),
		ttl:          regexp.MustCompile(`(?i)\bttl=([0-9]+)`),
		summary:      regexp.MustCompile(`([0-9]+) packets transmitted, ([0-9]+) (?:packets )?received`),
		countSummary: true,
	}

	// Reply from 10.0.0.1: bytes=32 time=12ms TTL=64
	// Respuesta desde 10.0.0.1: bytes=32 tiempo<1ms TTL=128
	// Packets: Sent = 1, Received = 1, Lost = 0 (0% loss),
	windowsParser = &linePatterns{
		reply:   regexp.MustCompile(`(?i)\bTTL=[0-9]+`),
		rtt:     regexp.MustCompile(`(?i)[=<]\s*([0-9]+(?:[.,][0-9]+)?)\s*ms\b`),
		ttl:     regexp.MustCompile(`(?i)\bTTL=([0-9]+)`),
		summary: regexp.MustCompile(`(?i)(?:sent|enviados)\s*=\s*([0-9]+),\s*(?:received|recibidos)\s*=\s*([0-9]+)`),
	}
)

func (p *linePatterns) Parse(raw string) proto.Metrics {
	m := proto.Metrics{Sent: proto.PacketsPerProbe}
	replies := 0
	summaryReceived := -1

	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if sm := p.summary.FindStringSubmatch(line); sm != nil {
			if sent, err := strconv.Atoi(sm[1]); err == nil && sent > 0 {
				m.Sent = sent
			}
			if recv, err := strconv.Atoi(sm[2]); err == nil {
				summaryReceived = recv
			}
			continue
		}

		if !p.reply.MatchString(line) {
			continue
		}
		replies++

		// The first reply carries the metrics; ping sends one packet anyway.
		if m.RTT == nil {
			if rm := p.rtt.FindStringSubmatch(line); rm != nil {
				if v, err := strconv.ParseFloat(strings.ReplaceAll(rm[1], ",", "."), 64); err == nil {
					m.RTT = &v
				}
			}
		}
		if m.TTL == nil {
			if tm := p.ttl.FindStringSubmatch(line); tm != nil {
				if v, err := strconv.Atoi(tm[1]); err == nil {
					m.TTL = &v
				}
			}
		}
	}

	m.Received = replies
	if replies == 0 && p.countSummary && summaryReceived > 0 {
		m.Received = summaryReceived
	}
	m.Received = min(m.Received, m.Sent)

	if m.Received == 0 {
		m.RTT = nil
		m.TTL = nil
	}
	return m
}
