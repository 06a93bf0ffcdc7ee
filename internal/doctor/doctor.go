// Package doctor implements stale-run detection and cleanup (spec §4.6):
// a periodic sweep over every non-terminal Run that classifies each as
// stale using PID liveness combined with an activity heartbeat, then
// aborts the stale ones with an explanatory message.
package doctor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/eventbus"
	"github.com/ralphx/ralphx/pkg/safego"
)

// Store is the subset of the Project Store the Doctor drives.
type Store interface {
	StaleCandidateRuns(ctx context.Context) ([]*domain.Run, error)
	MarkRunAborted(ctx context.Context, runID, reason string) error
}

// Doctor periodically sweeps for stale runs and aborts them.
type Doctor struct {
	store  Store
	cfg    config.DoctorConfig
	logger *zap.Logger
	bus    eventbus.Bus // nil disables doctor_finding events; CLI/daemon wiring only

	// isAlive reports whether pid is a running process on this host.
	// Overridable in tests; defaults to a real syscall.Kill(pid, 0) probe.
	isAlive func(pid int) bool
}

func New(store Store, cfg config.DoctorConfig, bus eventbus.Bus, logger *zap.Logger) *Doctor {
	return &Doctor{store: store, cfg: cfg, bus: bus, logger: logger, isAlive: pidIsAlive}
}

// pidIsAlive sends the null signal: delivery is skipped but error
// reporting still occurs, so this tells us whether pid exists without
// actually signaling it. ESRCH means no such process; EPERM means the
// process exists but we lack permission to signal it — still alive.
func pidIsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil || err == syscall.EPERM {
		return true
	}
	return false
}

// Reason names which of the four spec §4.6 staleness rules fired.
type Reason int

const (
	reasonNone Reason = iota
	ReasonPIDNotRunning
	ReasonInactivityTimeout
	ReasonLegacyNoTracking
	ReasonPIDReuseStaleActivity
)

func (r Reason) String() string {
	switch r {
	case ReasonPIDNotRunning:
		return "executor process is no longer running"
	case ReasonInactivityTimeout:
		return "no activity recorded within the inactivity timeout"
	case ReasonLegacyNoTracking:
		return "run has no liveness tracking and started before the inactivity timeout"
	case ReasonPIDReuseStaleActivity:
		return "executor pid appears live but activity is stale beyond the pid-reuse grace window"
	default:
		return "not stale"
	}
}

// Classify applies the four staleness rules (spec §4.6) to run, returning
// the rule that fired, or reasonNone if the run is not stale. now and
// maxInactivity are threaded through explicitly so Check is deterministic
// and testable.
func (d *Doctor) Classify(run *domain.Run, now time.Time, maxInactivity time.Duration) Reason {
	switch run.Status {
	case domain.RunCompleted, domain.RunError, domain.RunAborted:
		return reasonNone
	}

	// Rule 1: a tracked executor that is no longer running is stale
	// regardless of any activity heartbeat.
	if run.ExecutorPID != 0 && !d.isAlive(run.ExecutorPID) {
		return ReasonPIDNotRunning
	}

	// Rule 3 (legacy): no liveness tracking at all, judged by started_at.
	if run.ExecutorPID == 0 && run.LastActivityAt == nil {
		if now.Sub(run.StartedAt) > maxInactivity {
			return ReasonLegacyNoTracking
		}
		return reasonNone
	}

	if run.LastActivityAt != nil {
		age := now.Sub(*run.LastActivityAt)
		// Rule 4: PID appears live, but activity went stale long enough
		// ago that the PID may have been reused by an unrelated process.
		if run.ExecutorPID != 0 && age > 2*maxInactivity {
			return ReasonPIDReuseStaleActivity
		}
		// Rule 2: plain inactivity timeout.
		if age > maxInactivity {
			return ReasonInactivityTimeout
		}
	}

	return reasonNone
}

// Check runs one sweep: classify every non-terminal run, and (unless
// dryRun) abort every stale one with an explanatory message. It returns
// the stale runs found, aborted or not.
func (d *Doctor) Check(ctx context.Context, dryRun bool) ([]*domain.Run, error) {
	candidates, err := d.store.StaleCandidateRuns(ctx)
	if err != nil {
		return nil, err
	}

	maxInactivity := time.Duration(d.cfg.MaxInactivityMinutes) * time.Minute
	if maxInactivity <= 0 {
		maxInactivity = 10 * time.Minute
	}
	now := time.Now().UTC()

	var stale []*domain.Run
	for _, run := range candidates {
		reason := d.Classify(run, now, maxInactivity)
		if reason == reasonNone {
			continue
		}
		stale = append(stale, run)
		if d.bus != nil {
			d.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeDoctorFinding, eventbus.DoctorFindingPayload{
				RunID: run.ID, Condition: reason.String(), Detail: run.LoopName,
			}))
		}

		if dryRun {
			continue
		}
		msg := fmt.Sprintf("doctor: %s", reason)
		if err := d.store.MarkRunAborted(ctx, run.ID, msg); err != nil {
			if d.logger != nil {
				d.logger.Error("doctor: failed to abort stale run",
					zap.String("run_id", run.ID), zap.Error(err))
			}
			continue
		}
		if d.logger != nil {
			d.logger.Warn("doctor: aborted stale run",
				zap.String("run_id", run.ID), zap.String("loop", run.LoopName),
				zap.String("reason", reason.String()))
		}
	}
	return stale, nil
}

// RunBackgroundSweep ticks every cfg.SweepInterval, running a live (non
// dry-run) Check on each tick. It blocks until ctx is canceled.
func (d *Doctor) RunBackgroundSweep(ctx context.Context) {
	interval := d.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safego.Go(d.logger, "doctor-sweep", func() {
				if _, err := d.Check(ctx, false); err != nil && d.logger != nil {
					d.logger.Error("doctor: sweep failed", zap.Error(err))
				}
			})
		}
	}
}
