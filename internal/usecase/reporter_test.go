package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rheahq/rhea/internal/domain"
)

func entryAt(daemon, action, outcome, ts string) domain.EventEntry {
	return domain.EventEntry{Timestamp: ts, Daemon: daemon, Action: action, Outcome: outcome}
}

// TestAggregate_CountsPerDaemonAndOutcome verifies the basic grouping
func TestAggregate_CountsPerDaemonAndOutcome(t *testing.T) {
	events := &mockEventLog{entries: []domain.EventEntry{
		entryAt("echo", domain.ActionLaunch, domain.OutcomeOK, "2026-08-29T10:00:00Z"),
		entryAt("echo", domain.ActionLaunch, domain.OutcomeOK, "2026-08-29T11:00:00Z"),
		entryAt("echo", domain.ActionLaunch, domain.OutcomeError, "2026-08-29T12:00:00Z"),
		entryAt("mirror", domain.ActionLaunch, domain.OutcomeOK, "2026-08-29T13:00:00Z"),
	}}
	r := NewReporter(events)

	report, err := r.Aggregate(domain.EventFilter{}, false)

	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	require.Len(t, report.Rows, 3)
	assert.Equal(t, ReportRow{Daemon: "echo", Outcome: domain.OutcomeError, Count: 1}, report.Rows[0])
	assert.Equal(t, ReportRow{Daemon: "echo", Outcome: domain.OutcomeOK, Count: 2}, report.Rows[1])
	assert.Equal(t, ReportRow{Daemon: "mirror", Outcome: domain.OutcomeOK, Count: 1}, report.Rows[2])
}

// TestAggregate_DailySplitsByDay verifies per-day grouping
func TestAggregate_DailySplitsByDay(t *testing.T) {
	events := &mockEventLog{entries: []domain.EventEntry{
		entryAt("echo", domain.ActionLaunch, domain.OutcomeOK, "2026-08-28T23:00:00Z"),
		entryAt("echo", domain.ActionLaunch, domain.OutcomeOK, "2026-08-29T01:00:00Z"),
	}}
	r := NewReporter(events)

	report, err := r.Aggregate(domain.EventFilter{}, true)

	require.NoError(t, err)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "2026-08-28", report.Rows[0].Day)
	assert.Equal(t, "2026-08-29", report.Rows[1].Day)
	assert.Equal(t, 1, report.Rows[0].Count)
}

// TestAggregate_EmptyLog verifies the zero-event report
func TestAggregate_EmptyLog(t *testing.T) {
	r := NewReporter(&mockEventLog{})

	report, err := r.Aggregate(domain.EventFilter{}, false)

	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Rows)
}

// TestAggregate_BadTimestampGroupsUnderEmptyDay verifies resilience to junk timestamps
func TestAggregate_BadTimestampGroupsUnderEmptyDay(t *testing.T) {
	events := &mockEventLog{entries: []domain.EventEntry{
		entryAt("echo", domain.ActionLaunch, domain.OutcomeOK, "not-a-time"),
	}}
	r := NewReporter(events)

	report, err := r.Aggregate(domain.EventFilter{}, true)

	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	assert.Empty(t, report.Rows[0].Day)
}
