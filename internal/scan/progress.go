package scan

import (
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

// Reporter observes scan progress. Progress is called from a single
// goroutine after every result, whatever its outcome.
type Reporter interface {
	Progress(probed, total int)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(probed, total int)

func (f ReporterFunc) Progress(probed, total int) { f(probed, total) }

type nopReporter struct{}

func (nopReporter) Progress(int, int) {}

// LogReporter logs a progress line every Every results and on the last one.
type LogReporter struct {
	Log   logrus.FieldLogger
	Every int
}

func (r *LogReporter) Progress(probed, total int) {
	every := r.Every
	if every <= 0 {
		every = 1
	}
	if probed%every != 0 && probed != total {
		return
	}
	pct := 100.0
	if total > 0 {
		pct = float64(probed) / float64(total) * 100
	}
	r.Log.WithFields(logrus.Fields{
		"probed": probed,
		"total":  total,
	}).Infof("progress: %.1f%%", pct)
}

// BarReporter draws a terminal progress bar.
type BarReporter struct {
	title string
	bar   *pterm.ProgressbarPrinter
}

func NewBarReporter(title string) *BarReporter {
	return &BarReporter{title: title}
}

func (r *BarReporter) Progress(probed, total int) {
	if r.bar == nil {
		bar, err := pterm.DefaultProgressbar.WithTotal(total).WithTitle(r.title).Start()
		if err != nil {
			return
		}
		r.bar = bar
	}
	if delta := probed - r.bar.Current; delta > 0 {
		r.bar.Add(delta)
	}
	if probed >= total {
		r.Close()
	}
}

// Close stops the bar if it is still drawing. Safe to call more than once.
func (r *BarReporter) Close() {
	if r.bar == nil || !r.bar.IsActive {
		return
	}
	_, _ = r.bar.Stop()
}
