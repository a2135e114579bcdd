package proto

import (
	"net/netip"
	"time"
)

// PacketsPerProbe is the number of echo requests sent to each address.
const PacketsPerProbe = 1

// Outcome describes how a probe ended. It is logged and summarised but not
// persisted.
type Outcome string

const (
	OutcomeReply      Outcome = "reply"
	OutcomeNoReply    Outcome = "no_reply"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeUnparsed   Outcome = "unparsed"
	OutcomeSpawnError Outcome = "spawn_error"
)

// Metrics is what the output parser extracts from one probe.
type Metrics struct {
	Sent     int
	Received int
	RTT      *float64 // milliseconds
	TTL      *int
}

// ProbeResult is one row of a scan: the outcome of probing a single address.
// Build it with NewProbeResult or NoReply so loss and activity stay derived
// from the received count.
type ProbeResult struct {
	Address              netip.Addr `json:"ip_address"`
	PacketsSent          int        `json:"packets_sent"`
	PacketsReceived      int        `json:"packets_received"`
	PacketLossPercentage float64    `json:"packet_loss_percentage"`
	LatencyMS            *float64   `json:"latency_ms"`
	IsActive             bool       `json:"is_active"`
	ScanTimestamp        time.Time  `json:"scan_timestamp"`
	ResponseTime         *float64   `json:"response_time"` // same measurement as LatencyMS
	TTL                  *int       `json:"ttl"`
	Outcome              Outcome    `json:"-"`
}

// NewProbeResult derives a result from parsed metrics. The received count is
// clamped to the packets sent, and latency and TTL are dropped when nothing
// came back.
func NewProbeResult(addr netip.Addr, scanTimestamp time.Time, outcome Outcome, m Metrics) ProbeResult {
	sent := PacketsPerProbe
	received := min(max(m.Received, 0), sent)

	r := ProbeResult{
		Address:              addr,
		PacketsSent:          sent,
		PacketsReceived:      received,
		PacketLossPercentage: float64(sent-received) / float64(sent) * 100,
		IsActive:             received == PacketsPerProbe,
		ScanTimestamp:        scanTimestamp,
		Outcome:              outcome,
	}
	if !r.IsActive {
		return r
	}
	if m.RTT != nil {
		latency := *m.RTT
		rt := latency
		r.LatencyMS = &latency
		r.ResponseTime = &rt
	}
	if m.TTL != nil {
		ttl := *m.TTL
		r.TTL = &ttl
	}
	return r
}

// NoReply returns an inactive result with every optional metric absent.
func NoReply(addr netip.Addr, scanTimestamp time.Time, outcome Outcome) ProbeResult {
	return NewProbeResult(addr, scanTimestamp, outcome, Metrics{})
}
