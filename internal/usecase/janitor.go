package usecase

import (
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

// DeletionResult is the per-path outcome of a plan-or-delete batch.
type DeletionResult struct {
	Path    string
	Outcome string // planned, ok, non_empty, error
	Err     error
}

// Janitor removes stale artifacts under SafetyContext rules. Directories
// are only removed when empty; a non-empty directory is a deliberate skip,
// never escalated to a recursive delete.
type Janitor struct {
	fs     domain.FileSystemManager
	events domain.EventLog
	logger *zap.Logger
}

// NewJanitor creates a janitor.
func NewJanitor(fs domain.FileSystemManager, events domain.EventLog, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{fs: fs, events: events, logger: logger}
}

// PlanOrDelete processes each path in turn. Under dry-run nothing touches
// the filesystem and every path is logged with outcome "planned". Errors on
// individual paths never halt the batch.
func (j *Janitor) PlanOrDelete(sc domain.SafetyContext, paths []string) []DeletionResult {
	results := make([]DeletionResult, 0, len(paths))

	for _, path := range paths {
		expanded := j.fs.ExpandHome(path)

		if sc.DryRun {
			j.logger.Info("planned deletion", zap.String("path", expanded))
			j.recordDeletion(sc.Daemon, domain.ActionPlanDelete, expanded, domain.OutcomePlanned, nil)
			results = append(results, DeletionResult{Path: expanded, Outcome: domain.OutcomePlanned})
			continue
		}

		if j.fs.IsDir(expanded) {
			entries, err := j.fs.ListDir(expanded)
			if err != nil {
				j.recordDeletion(sc.Daemon, domain.ActionDelete, expanded, domain.OutcomeError, err)
				results = append(results, DeletionResult{Path: expanded, Outcome: domain.OutcomeError, Err: err})
				continue
			}
			if len(entries) > 0 {
				// Deliberate skip: recursive deletion is out of scope.
				j.logger.Info("skipping non-empty directory", zap.String("path", expanded))
				j.recordDeletion(sc.Daemon, domain.ActionDelete, expanded, domain.OutcomeNonEmpty, nil)
				results = append(results, DeletionResult{Path: expanded, Outcome: domain.OutcomeNonEmpty})
				continue
			}
		}

		if err := j.fs.Remove(expanded); err != nil {
			j.logger.Warn("failed to delete path", zap.String("path", expanded), zap.Error(err))
			j.recordDeletion(sc.Daemon, domain.ActionDelete, expanded, domain.OutcomeError, err)
			results = append(results, DeletionResult{Path: expanded, Outcome: domain.OutcomeError, Err: err})
			continue
		}

		j.logger.Info("deleted path", zap.String("path", expanded))
		j.recordDeletion(sc.Daemon, domain.ActionDelete, expanded, domain.OutcomeOK, nil)
		results = append(results, DeletionResult{Path: expanded, Outcome: domain.OutcomeOK})
	}

	return results
}

func (j *Janitor) recordDeletion(daemon, action, target, outcome string, err error) {
	e := domain.NewEvent(daemon, action, target, outcome).WithError(err)
	if recErr := j.events.Record(e); recErr != nil {
		j.logger.Warn("failed to record event", zap.Error(recErr))
	}
}
