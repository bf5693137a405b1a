package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

// DoctorRow is one daemon's line in the health sweep table.
type DoctorRow struct {
	Name         string
	Status       domain.DaemonStatus
	Role         string
	Capabilities string // e.g. "describe,healthcheck" or "-"
	Health       domain.HealthStatus
	Notes        string
}

// Doctor sweeps every discovered daemon, probing its optional capabilities
// and invoking healthchecks. Failures in one daemon never abort the sweep.
type Doctor struct {
	source domain.DaemonSource
	prober domain.CapabilityProber
	syncer *Syncer
	logger *zap.Logger
}

// NewDoctor creates a doctor.
func NewDoctor(source domain.DaemonSource, prober domain.CapabilityProber, syncer *Syncer, logger *zap.Logger) *Doctor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Doctor{source: source, prober: prober, syncer: syncer, logger: logger}
}

// Sweep probes every discovered daemon and aggregates a status table.
func (d *Doctor) Sweep(ctx context.Context) ([]DoctorRow, error) {
	records, err := d.source.Discover()
	if err != nil {
		return nil, err
	}

	rows := make([]DoctorRow, 0, len(records))
	for _, rec := range records {
		row := DoctorRow{
			Name:   rec.Name,
			Status: rec.Status,
			Role:   rec.Role,
			Health: domain.HealthUnknown,
		}

		caps := d.prober.Capabilities(rec)
		var declared []string
		if caps.Describe {
			declared = append(declared, "describe")
		}
		if caps.Healthcheck {
			declared = append(declared, "healthcheck")
		}
		if caps.Run {
			declared = append(declared, "run")
		}
		if len(declared) == 0 {
			row.Capabilities = "-"
		} else {
			row.Capabilities = strings.Join(declared, ",")
		}

		if rec.Status == domain.StatusReady {
			report := d.prober.Healthcheck(ctx, rec)
			row.Health = report.Status
			row.Notes = report.Notes
		} else {
			row.Notes = "no entry point to probe"
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// Fix runs the registry synchronization non-interactively with a confirmed
// SafetyContext, persisting reconciliation results.
func (d *Doctor) Fix() (*SyncResult, error) {
	sc := domain.NewSafetyContext("rhea", false, true)
	return d.syncer.Sync(sc)
}
