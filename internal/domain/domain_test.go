package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func sampleRun() *Run {
	now := time.Date(2026, 4, 7, 3, 0, 0, 0, time.UTC)
	run := &Run{
		ID:       uuid.New(),
		PlanID:   uuid.New(),
		ClientID: "acme",
		Policy: PolicyFromPlan(&Plan{
			HealthThresholdPercent: 95,
			HealthCheckIntervalSec: 600,
			PatchIDs:               []string{"KB5034441"},
			MaintenanceWindow:      &MaintenanceWindow{Cron: "0 22 * * *", DurationMin: 120},
		}),
		Stages: []Stage{
			{ID: 0, Kind: StageKindCanary, DeviceIDs: []string{"a"}},
			{ID: 1, Kind: StageKindBatch, DeviceIDs: []string{"b", "c"}},
		},
		Status:    RunStatusPending,
		CreatedAt: now,
	}
	run.MarkRunning(0, now)
	run.MarkHealthCheck(now)

	outcome := StageOutcome{StageID: 0, Kind: OutcomeKindExecute, Verdict: VerdictUnknown}
	outcome.Record("a", DeviceResult{Status: DeviceStatusDispatched})
	run.AppendOutcome(outcome)
	return run
}

func TestPolicyFromPlan(t *testing.T) {
	run := sampleRun()

	if run.Policy.HealthCheckInterval != 10*time.Minute {
		t.Errorf("expected 10m interval, got %v", run.Policy.HealthCheckInterval)
	}
	if run.Policy.MaintenanceWindow == nil || run.Policy.MaintenanceWindow.Duration() != 2*time.Hour {
		t.Errorf("expected 2h window, got %+v", run.Policy.MaintenanceWindow)
	}
}

func TestRun_CloneIsDeep(t *testing.T) {
	run := sampleRun()
	c := run.Clone()

	c.Stages[1].DeviceIDs[0] = "x"
	c.Outcomes[0].DeviceResults["a"] = DeviceResult{Status: DeviceStatusFailed}
	c.Outcomes[0].Decide(0, VerdictRollback)
	c.Health.Attempts = 7
	c.Policy.PatchIDs[0] = "KB0"
	c.Policy.MaintenanceWindow.DurationMin = 1
	*c.StartedAt = c.StartedAt.Add(time.Hour)

	if run.Stages[1].DeviceIDs[0] != "b" {
		t.Error("stage devices shared with clone")
	}
	if run.Outcomes[0].DeviceResults["a"].Status != DeviceStatusDispatched {
		t.Error("device results shared with clone")
	}
	if run.Outcomes[0].HealthPercent != nil || run.Outcomes[0].Verdict != VerdictUnknown {
		t.Error("outcome verdict shared with clone")
	}
	if run.Health.Attempts != 0 {
		t.Error("health state shared with clone")
	}
	if run.Policy.PatchIDs[0] != "KB5034441" || run.Policy.MaintenanceWindow.DurationMin != 120 {
		t.Error("policy shared with clone")
	}
	if !run.StartedAt.Equal(run.CreatedAt) {
		t.Error("started_at shared with clone")
	}
}

func TestStageOutcome_Record(t *testing.T) {
	var o StageOutcome
	o.Record("a", DeviceResult{Status: DeviceStatusDispatched})
	o.Record("b", DeviceResult{Status: DeviceStatusFailed, Detail: "agent offline"})
	o.Record("c", DeviceResult{Status: DeviceStatusRollingBack})
	o.Record("d", DeviceResult{Status: DeviceStatusRollbackFailed})

	if o.Attempted != 4 || o.Succeeded != 2 || o.Failed != 2 {
		t.Errorf("unexpected counters: attempted=%d succeeded=%d failed=%d", o.Attempted, o.Succeeded, o.Failed)
	}
}

func TestRun_Transitions(t *testing.T) {
	run := sampleRun()
	now := run.CreatedAt.Add(time.Hour)

	if run.Health == nil || !run.Health.NextProbeAt.Equal(run.CreatedAt) {
		t.Fatalf("first probe should be due immediately: %+v", run.Health)
	}

	run.MarkRunning(1, now)
	if run.Health != nil || run.CurrentStage != 1 || !run.StartedAt.Equal(run.CreatedAt) {
		t.Errorf("running(1) must reset health and keep started_at: %+v", run)
	}
	if !run.IsLastStage() || run.Stage().Size() != 2 || run.DeviceCount() != 3 {
		t.Errorf("unexpected stage accessors")
	}

	run.MarkFailed(ReasonCancelled, now)
	if !run.IsFinished() || run.Reason != ReasonCancelled || run.Duration() != time.Hour {
		t.Errorf("unexpected terminal state: status=%s reason=%s duration=%v", run.Status, run.Reason, run.Duration())
	}
}

func TestRun_LastOutcome(t *testing.T) {
	run := sampleRun()
	run.AppendOutcome(StageOutcome{StageID: 0, Kind: OutcomeKindRollback})

	if o := run.LastOutcome(0, OutcomeKindExecute); o == nil || o.Attempted != 1 {
		t.Errorf("expected execute outcome, got %+v", o)
	}
	if o := run.LastOutcome(1, OutcomeKindExecute); o != nil {
		t.Errorf("stage 1 has no outcome yet, got %+v", o)
	}
	if got := len(run.OutcomesForStage(0)); got != 2 {
		t.Errorf("expected 2 outcomes for stage 0, got %d", got)
	}
}
