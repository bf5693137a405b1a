package usecase

import (
	"sort"
	"time"

	"github.com/rheahq/rhea/internal/domain"
)

// ReportRow is one (daemon, outcome) count, optionally split by day.
type ReportRow struct {
	Daemon  string
	Outcome string
	Day     string // empty unless daily aggregation requested
	Count   int
}

// Report aggregates the full event log.
type Report struct {
	Rows  []ReportRow
	Total int
}

// Reporter aggregates event log entries into outcome counts.
type Reporter struct {
	events domain.EventLog
}

// NewReporter creates a reporter.
func NewReporter(events domain.EventLog) *Reporter {
	return &Reporter{events: events}
}

// Aggregate reads the full log and returns sorted counts grouped by
// daemon and outcome, split per day when daily is set.
func (r *Reporter) Aggregate(filter domain.EventFilter, daily bool) (*Report, error) {
	entries, err := r.events.Entries(filter)
	if err != nil {
		return nil, err
	}

	type key struct {
		daemon, outcome, day string
	}
	counts := make(map[key]int)
	for _, e := range entries {
		k := key{daemon: e.Daemon, outcome: e.Outcome}
		if daily {
			k.day = entryDay(e)
		}
		counts[k]++
	}

	report := &Report{Total: len(entries)}
	for k, n := range counts {
		report.Rows = append(report.Rows, ReportRow{
			Daemon:  k.daemon,
			Outcome: k.outcome,
			Day:     k.day,
			Count:   n,
		})
	}
	sort.Slice(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if a.Daemon != b.Daemon {
			return a.Daemon < b.Daemon
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.Outcome < b.Outcome
	})
	return report, nil
}

// entryDay extracts the YYYY-MM-DD day from the entry timestamp; entries
// with unparseable timestamps group under an empty day.
func entryDay(e domain.EventEntry) string {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
