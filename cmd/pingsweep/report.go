package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tmater/pingsweep/internal/alert"
	"github.com/tmater/pingsweep/internal/scan"
	"github.com/tmater/pingsweep/internal/store"
)

const (
	reportTimeout = 10 * time.Second
	recentWindow  = time.Hour
)

// report logs what the database holds for this scan and for the last hour.
func report(ctx context.Context, log logrus.FieldLogger, db *store.Store, sum scan.Summary) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	stored, err := db.RunSummary(ctx, sum.ScanTimestamp)
	if err != nil {
		log.WithError(err).Warn("failed to summarise stored scan")
		return
	}
	entry := log.WithFields(logrus.Fields{
		"rows":     stored.Scanned,
		"active":   stored.Active,
		"inactive": stored.Inactive,
	})
	if stored.AvgLatency != nil {
		entry = entry.WithFields(logrus.Fields{
			"avg_latency_ms": *stored.AvgLatency,
			"min_latency_ms": *stored.MinLatency,
			"max_latency_ms": *stored.MaxLatency,
		})
	}
	entry.Info("stored scan")

	recent, err := db.RecentSummary(ctx, time.Now().Add(-recentWindow))
	if err != nil {
		log.WithError(err).Warn("failed to summarise recent scans")
		return
	}
	log.WithFields(logrus.Fields{
		"rows":   recent.Scanned,
		"active": recent.Active,
	}).Info("results in the last hour")
}

// evict deletes results older than the retention window.
func evict(ctx context.Context, log logrus.FieldLogger, db *store.Store, retentionDays int) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := db.EvictOldResults(ctx, cutoff)
	if err != nil {
		log.WithError(err).Warn("eviction failed")
		return
	}
	if n > 0 {
		log.Infof("eviction: deleted %d rows older than %d days", n, retentionDays)
	}
}

// notify posts the scan summary to the configured webhook. Failures are
// logged only.
func notify(ctx context.Context, log logrus.FieldLogger, url string, sum scan.Summary, scanErr error) {
	status := "complete"
	if scanErr != nil {
		status = "interrupted"
	}
	err := alert.Fire(ctx, url, alert.ScanPayload{
		Range:         sum.Range,
		ScanTimestamp: sum.ScanTimestamp,
		Status:        status,
		Total:         sum.Total,
		Probed:        sum.Probed,
		Active:        sum.Active,
		Inactive:      sum.Inactive,
		WriteFailures: sum.WriteFailures,
		DurationMS:    sum.Duration.Milliseconds(),
	})
	if err != nil {
		log.WithError(err).Warn("webhook failed")
	}
}
