package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// fakeExecutor — PatchExecutor с настраиваемыми отказами.
type fakeExecutor struct {
	mu       sync.Mutex
	fail     map[string]bool
	reject   map[string]bool
	dispatch []string
	revert   []string

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func (f *fakeExecutor) track() func() {
	n := f.inflight.Add(1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeExecutor) Dispatch(_ context.Context, deviceID string, _ []string) (Receipt, error) {
	defer f.track()()
	f.mu.Lock()
	f.dispatch = append(f.dispatch, deviceID)
	f.mu.Unlock()

	if f.fail[deviceID] {
		return Receipt{}, errors.New("agent offline")
	}
	if f.reject[deviceID] {
		return Receipt{Accepted: false, Detail: "patch not applicable"}, nil
	}
	return Receipt{Accepted: true, Handle: "cmd-" + deviceID}, nil
}

func (f *fakeExecutor) Revert(_ context.Context, deviceID string, _ []string) (Receipt, error) {
	f.mu.Lock()
	f.revert = append(f.revert, deviceID)
	f.mu.Unlock()

	if f.fail[deviceID] {
		return Receipt{}, errors.New("agent offline")
	}
	return Receipt{Accepted: true, Handle: "rb-" + deviceID}, nil
}

// fakeProber — HealthProber: нездоровые и недоступные устройства задаются явно.
type fakeProber struct {
	unhealthy map[string]bool
	errs      map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, deviceID string) (ProbeResult, error) {
	if f.errs[deviceID] {
		return ProbeResult{}, errors.New("timeout")
	}
	if f.unhealthy[deviceID] {
		return ProbeResult{Healthy: false, Detail: "Offline"}, nil
	}
	return ProbeResult{Healthy: true, Detail: "Online"}, nil
}

func stageOf(n int) domain.Stage {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("dev-%02d", i)
	}
	return domain.Stage{ID: 1, Kind: domain.StageKindBatch, DeviceIDs: ids}
}

func TestBatchExecutor_AllAccepted(t *testing.T) {
	exec := &fakeExecutor{}
	b := NewBatchExecutor(exec, Config{})

	outcome := b.Execute(context.Background(), stageOf(10), []string{"KB5030211"})

	if outcome.Attempted != 10 || outcome.Succeeded != 10 || outcome.Failed != 0 {
		t.Errorf("unexpected counters: %+v", outcome)
	}
	if outcome.Kind != domain.OutcomeKindExecute {
		t.Errorf("expected execute outcome, got %s", outcome.Kind)
	}
	if outcome.Verdict != domain.VerdictUnknown {
		t.Errorf("expected unknown verdict, got %s", outcome.Verdict)
	}
	if outcome.HealthPercent != nil {
		t.Error("health percent should not be set by executor")
	}
	if got := outcome.DeviceResults["dev-03"].Handle; got != "cmd-dev-03" {
		t.Errorf("expected handle cmd-dev-03, got %q", got)
	}
}

func TestBatchExecutor_PartialFailure(t *testing.T) {
	exec := &fakeExecutor{
		fail:   map[string]bool{"dev-01": true},
		reject: map[string]bool{"dev-02": true},
	}
	b := NewBatchExecutor(exec, Config{})

	outcome := b.Execute(context.Background(), stageOf(5), nil)

	if outcome.Attempted != 5 || outcome.Succeeded != 3 || outcome.Failed != 2 {
		t.Errorf("unexpected counters: attempted=%d succeeded=%d failed=%d",
			outcome.Attempted, outcome.Succeeded, outcome.Failed)
	}
	if len(exec.dispatch) != 5 {
		t.Errorf("every device must be dispatched, got %d", len(exec.dispatch))
	}

	for _, id := range []string{"dev-01", "dev-02"} {
		res := outcome.DeviceResults[id]
		if res.Status != domain.DeviceStatusFailed {
			t.Errorf("%s: expected failed, got %s", id, res.Status)
		}
		if res.Detail == "" {
			t.Errorf("%s: expected detail", id)
		}
	}
}

func TestBatchExecutor_ConcurrencyLimit(t *testing.T) {
	exec := &fakeExecutor{delay: 5 * time.Millisecond}
	b := NewBatchExecutor(exec, Config{Concurrency: 3})

	outcome := b.Execute(context.Background(), stageOf(12), nil)

	if outcome.Succeeded != 12 {
		t.Errorf("expected 12 succeeded, got %d", outcome.Succeeded)
	}
	if peak := exec.maxInflight.Load(); peak > 3 {
		t.Errorf("expected at most 3 concurrent dispatches, got %d", peak)
	}
}

func TestBatchExecutor_EmptyStage(t *testing.T) {
	b := NewBatchExecutor(&fakeExecutor{}, Config{})

	outcome := b.Execute(context.Background(), domain.Stage{ID: 2, Kind: domain.StageKindBatch}, nil)

	if outcome.Attempted != 0 {
		t.Errorf("expected 0 attempted, got %d", outcome.Attempted)
	}
	if outcome.StageID != 2 {
		t.Errorf("expected stage 2, got %d", outcome.StageID)
	}
}

func TestHealthGate_Evaluate(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		unhealthy   []string
		probeErrors []string
		threshold   float64
		wantPercent float64
		wantVerdict domain.Verdict
	}{
		{"all healthy", 10, nil, nil, 95, 100, domain.VerdictProceed},
		{"exact boundary", 20, []string{"dev-00"}, nil, 95, 95, domain.VerdictProceed},
		{"below threshold", 10, []string{"dev-00", "dev-01"}, nil, 95, 80, domain.VerdictRollback},
		{"probe error is unhealthy", 4, nil, []string{"dev-03"}, 80, 75, domain.VerdictRollback},
		{"empty stage", 0, nil, nil, 100, 100, domain.VerdictProceed},
		{"zero threshold", 3, []string{"dev-00", "dev-01", "dev-02"}, nil, 0, 0, domain.VerdictProceed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{unhealthy: map[string]bool{}, errs: map[string]bool{}}
			for _, id := range tt.unhealthy {
				prober.unhealthy[id] = true
			}
			for _, id := range tt.probeErrors {
				prober.errs[id] = true
			}

			g := NewHealthGate(prober, Config{})
			percent, verdict := g.Evaluate(context.Background(), stageOf(tt.size), tt.threshold)

			if percent != tt.wantPercent {
				t.Errorf("expected %v%%, got %v%%", tt.wantPercent, percent)
			}
			if verdict != tt.wantVerdict {
				t.Errorf("expected %s, got %s", tt.wantVerdict, verdict)
			}
		})
	}
}

func TestJudge_InclusiveBoundary(t *testing.T) {
	for total := 1; total <= 200; total++ {
		for healthy := 0; healthy <= total; healthy++ {
			percent, _ := Judge(healthy, total, 0)
			_, verdict := Judge(healthy, total, percent)
			if verdict != domain.VerdictProceed {
				t.Fatalf("healthy=%d total=%d: percent equal to threshold must proceed", healthy, total)
			}
		}
	}
}

func TestRollbackCoordinator(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]bool{"dev-02": true}}
	r := NewRollbackCoordinator(exec, Config{})

	first := r.Rollback(context.Background(), stageOf(4), []string{"KB1"})
	second := r.Rollback(context.Background(), stageOf(4), []string{"KB1"})

	for _, o := range []domain.StageOutcome{first, second} {
		if o.Kind != domain.OutcomeKindRollback {
			t.Errorf("expected rollback outcome, got %s", o.Kind)
		}
		if o.Attempted != 4 || o.Succeeded != 3 || o.Failed != 1 {
			t.Errorf("unexpected counters: %+v", o)
		}
		if o.DeviceResults["dev-02"].Status != domain.DeviceStatusRollbackFailed {
			t.Errorf("expected rollback_failed for dev-02, got %s", o.DeviceResults["dev-02"].Status)
		}
		if o.DeviceResults["dev-00"].Status != domain.DeviceStatusRollingBack {
			t.Errorf("expected rolling_back for dev-00, got %s", o.DeviceResults["dev-00"].Status)
		}
	}

	// Два вызова — два независимых outcome
	first.DeviceResults["dev-00"] = domain.DeviceResult{Status: domain.DeviceStatusFailed}
	if second.DeviceResults["dev-00"].Status != domain.DeviceStatusRollingBack {
		t.Error("outcomes of separate invocations must not share state")
	}
	if len(exec.revert) != 8 {
		t.Errorf("expected 8 revert calls, got %d", len(exec.revert))
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		initial time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{1, time.Minute, time.Hour, time.Minute},
		{2, time.Minute, time.Hour, 2 * time.Minute},
		{4, time.Minute, time.Hour, 8 * time.Minute},
		{10, time.Minute, 30 * time.Minute, 30 * time.Minute},
		{3, 0, time.Hour, 0},
		{3, time.Second, 0, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, tt.initial, tt.max); got != tt.want {
			t.Errorf("Backoff(%d, %v, %v) = %v, want %v", tt.attempt, tt.initial, tt.max, got, tt.want)
		}
	}
}
