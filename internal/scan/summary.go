package scan

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Summary totals one sweep.
type Summary struct {
	Range         string
	ScanTimestamp time.Time
	Total         int
	Probed        int
	Active        int
	Inactive      int
	SpawnErrors   int
	WriteFailures int
	// Duplicates is the part of WriteFailures rejected as already stored.
	Duplicates int
	// Skipped counts addresses never probed because the scan was cancelled.
	Skipped  int
	Duration time.Duration
}

// SuccessRate is the share of addresses probed, in percent.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Probed) / float64(s.Total) * 100
}

// Log writes the closing report of a sweep.
func (s Summary) Log(log logrus.FieldLogger) {
	log.WithFields(logrus.Fields{
		"range":          s.Range,
		"scan_timestamp": s.ScanTimestamp.Format(time.RFC3339Nano),
		"duration":       s.Duration.Round(time.Millisecond),
		"total":          s.Total,
		"probed":         s.Probed,
		"active":         s.Active,
		"inactive":       s.Inactive,
		"spawn_errors":   s.SpawnErrors,
		"write_failures": s.WriteFailures,
		"duplicates":     s.Duplicates,
		"skipped":        s.Skipped,
		"success_rate":   s.SuccessRate(),
	}).Infof("scan complete: %d/%d hosts active", s.Active, s.Total)
}
