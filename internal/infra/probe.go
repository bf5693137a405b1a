package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rheahq/rhea/internal/domain"
)

const (
	capabilitySuffix    = "capabilities"
	defaultProbeTimeout = 10 * time.Second
	defaultInterpreter  = "python3"
)

// SidecarProber implements domain.CapabilityProber. A daemon declares its
// optional entry points in <name>.capabilities.json next to its script; the
// prober invokes the declared entry points as subprocesses with --describe
// or --healthcheck and parses a single JSON object from stdout. Daemon code
// is never loaded in-process.
type SidecarProber struct {
	daemonsRoot string
	interpreter string
	timeout     time.Duration
}

// NewSidecarProber creates a prober for the given daemons root.
func NewSidecarProber(daemonsRoot string) *SidecarProber {
	return &SidecarProber{
		daemonsRoot: daemonsRoot,
		interpreter: defaultInterpreter,
		timeout:     defaultProbeTimeout,
	}
}

// NewSidecarProberWithTimeout creates a prober with a custom invocation
// timeout (for testing).
func NewSidecarProberWithTimeout(daemonsRoot string, timeout time.Duration) *SidecarProber {
	p := NewSidecarProber(daemonsRoot)
	p.timeout = timeout
	return p
}

// Capabilities reads the sidecar capability manifest. Missing or
// unparseable manifests yield the zero set, never an error.
func (p *SidecarProber) Capabilities(rec domain.DaemonRecord) domain.CapabilitySet {
	scriptDir := filepath.Dir(filepath.Join(p.daemonsRoot, rec.Path))
	manifest := filepath.Join(scriptDir, strings.ToLower(rec.Name)+"."+capabilitySuffix+".json")

	data, err := os.ReadFile(manifest)
	if err != nil {
		return domain.CapabilitySet{}
	}
	var caps domain.CapabilitySet
	if err := json.Unmarshal(data, &caps); err != nil {
		return domain.CapabilitySet{}
	}
	return caps
}

// Healthcheck invokes the daemon's healthcheck entry point. A daemon that
// does not declare the capability reports unknown; any invocation failure
// is downgraded to warn with the error captured as notes.
func (p *SidecarProber) Healthcheck(ctx context.Context, rec domain.DaemonRecord) domain.HealthReport {
	report := domain.HealthReport{Daemon: rec.Name, Status: domain.HealthUnknown}

	caps := p.Capabilities(rec)
	if !caps.Healthcheck {
		report.Notes = "no healthcheck capability declared"
		return report
	}

	out, err := p.invoke(ctx, rec, "--healthcheck")
	if err != nil {
		report.Status = domain.HealthWarn
		report.Notes = err.Error()
		return report
	}

	var result struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		report.Status = domain.HealthWarn
		report.Notes = fmt.Sprintf("healthcheck output is not valid JSON: %v", err)
		return report
	}

	switch domain.HealthStatus(result.Status) {
	case domain.HealthOK, domain.HealthWarn, domain.HealthFail:
		report.Status = domain.HealthStatus(result.Status)
		report.Notes = result.Notes
	default:
		report.Status = domain.HealthWarn
		report.Notes = fmt.Sprintf("unrecognized health status %q", result.Status)
	}
	return report
}

// SelfDescribe invokes the daemon's describe entry point.
func (p *SidecarProber) SelfDescribe(ctx context.Context, rec domain.DaemonRecord) (map[string]any, error) {
	caps := p.Capabilities(rec)
	if !caps.Describe {
		return nil, fmt.Errorf("%s declares no describe capability", rec.Name)
	}
	out, err := p.invoke(ctx, rec, "--describe")
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, fmt.Errorf("describe output is not valid JSON: %w", err)
	}
	return m, nil
}

// invoke runs the daemon's launch command with the probe flag appended,
// under the prober timeout, and returns trimmed stdout.
func (p *SidecarProber) invoke(ctx context.Context, rec domain.DaemonRecord, flag string) ([]byte, error) {
	argv := domain.BuildArgv(p.interpreter, p.daemonsRoot, rec, []string{flag})
	if len(argv) == 0 {
		return nil, fmt.Errorf("%s has no launch command", rec.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(filepath.Join(p.daemonsRoot, rec.Path))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("probe %s failed: %s", flag, msg)
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}

// Ensure SidecarProber implements domain.CapabilityProber.
var _ domain.CapabilityProber = (*SidecarProber)(nil)
