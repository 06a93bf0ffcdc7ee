package doctor

import (
	"context"
	"testing"
	"time"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
)

func newDoctor(alive map[int]bool) *Doctor {
	d := New(nil, config.DoctorConfig{MaxInactivityMinutes: 10}, nil, nil)
	d.isAlive = func(pid int) bool { return alive[pid] }
	return d
}

func ts(minutesAgo int) *time.Time {
	t := time.Now().UTC().Add(-time.Duration(minutesAgo) * time.Minute)
	return &t
}

func TestClassify_PIDNotRunning(t *testing.T) {
	d := newDoctor(map[int]bool{})
	run := &domain.Run{Status: domain.RunActive, ExecutorPID: 4242, LastActivityAt: ts(1)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != ReasonPIDNotRunning {
		t.Fatalf("Classify() = %v, want ReasonPIDNotRunning", got)
	}
}

func TestClassify_InactivityTimeout(t *testing.T) {
	d := newDoctor(nil)
	run := &domain.Run{Status: domain.RunActive, LastActivityAt: ts(15)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != ReasonInactivityTimeout {
		t.Fatalf("Classify() = %v, want ReasonInactivityTimeout", got)
	}
}

func TestClassify_LegacyNoTracking(t *testing.T) {
	d := newDoctor(nil)
	run := &domain.Run{Status: domain.RunActive, StartedAt: time.Now().UTC().Add(-20 * time.Minute)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != ReasonLegacyNoTracking {
		t.Fatalf("Classify() = %v, want ReasonLegacyNoTracking", got)
	}
}

func TestClassify_LegacyNoTrackingNotYetStale(t *testing.T) {
	d := newDoctor(nil)
	run := &domain.Run{Status: domain.RunActive, StartedAt: time.Now().UTC().Add(-2 * time.Minute)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != reasonNone {
		t.Fatalf("Classify() = %v, want reasonNone", got)
	}
}

func TestClassify_PIDReuseStaleActivity(t *testing.T) {
	d := newDoctor(map[int]bool{4242: true})
	run := &domain.Run{Status: domain.RunActive, ExecutorPID: 4242, LastActivityAt: ts(25)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != ReasonPIDReuseStaleActivity {
		t.Fatalf("Classify() = %v, want ReasonPIDReuseStaleActivity", got)
	}
}

func TestClassify_LivePIDWithRecentActivityIsNotStale(t *testing.T) {
	d := newDoctor(map[int]bool{4242: true})
	run := &domain.Run{Status: domain.RunActive, ExecutorPID: 4242, LastActivityAt: ts(1)}
	if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != reasonNone {
		t.Fatalf("Classify() = %v, want reasonNone", got)
	}
}

func TestClassify_TerminalStatusesAreNeverStale(t *testing.T) {
	d := newDoctor(map[int]bool{})
	for _, status := range []domain.RunStatus{domain.RunCompleted, domain.RunError, domain.RunAborted} {
		run := &domain.Run{Status: status, ExecutorPID: 4242, LastActivityAt: ts(999)}
		if got := d.Classify(run, time.Now().UTC(), 10*time.Minute); got != reasonNone {
			t.Fatalf("Classify(%s) = %v, want reasonNone", status, got)
		}
	}
}

type fakeDoctorStore struct {
	runs    []*domain.Run
	aborted map[string]string
}

func (f *fakeDoctorStore) StaleCandidateRuns(ctx context.Context) ([]*domain.Run, error) {
	return f.runs, nil
}

func (f *fakeDoctorStore) MarkRunAborted(ctx context.Context, runID, reason string) error {
	if f.aborted == nil {
		f.aborted = make(map[string]string)
	}
	f.aborted[runID] = reason
	return nil
}

func TestCheck_AbortsStaleRunsAndLeavesHealthyOnesAlone(t *testing.T) {
	store := &fakeDoctorStore{runs: []*domain.Run{
		{ID: "stale-1", Status: domain.RunActive, LastActivityAt: ts(30)},
		{ID: "healthy-1", Status: domain.RunActive, LastActivityAt: ts(1)},
	}}
	d := newDoctor(nil)
	d.store = store

	stale, err := d.Check(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "stale-1" {
		t.Fatalf("Check() stale = %v, want [stale-1]", stale)
	}
	if _, ok := store.aborted["stale-1"]; !ok {
		t.Fatal("expected stale-1 to be aborted")
	}
	if _, ok := store.aborted["healthy-1"]; ok {
		t.Fatal("expected healthy-1 to not be aborted")
	}
}

func TestCheck_DryRunDoesNotAbort(t *testing.T) {
	store := &fakeDoctorStore{runs: []*domain.Run{
		{ID: "stale-1", Status: domain.RunActive, LastActivityAt: ts(30)},
	}}
	d := newDoctor(nil)
	d.store = store

	stale, err := d.Check(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("Check() stale = %v, want 1 entry", stale)
	}
	if len(store.aborted) != 0 {
		t.Fatalf("expected dry run to abort nothing, got %v", store.aborted)
	}
}
