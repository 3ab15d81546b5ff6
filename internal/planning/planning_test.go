package planning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/engine"
)

type fakeDevices struct {
	ids []string
	err error
}

func (f *fakeDevices) ResolveDevices(context.Context, string) ([]string, error) {
	return f.ids, f.err
}

type fakeProposer struct {
	plan *domain.Plan
	err  error
	got  Request
}

func (f *fakeProposer) Propose(_ context.Context, req Request) (*domain.Plan, error) {
	f.got = req
	return f.plan, f.err
}

func fleetOf(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("ws-%02d", i)
	}
	return ids
}

func newGenerator(p Proposer, d DeviceDirectory) *Generator {
	return NewGenerator(p, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDefaultPlan(t *testing.T) {
	tests := []struct {
		devices int
		canary  int
		batches []int
	}{
		{65, 6, []int{21, 21, 23}},
		{30, 3, []int{10, 10, 10}},
		{5, 1, []int{1, 1, 3}},
		{0, 1, []int{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.devices), func(t *testing.T) {
			plan := DefaultPlan(tt.devices)

			if plan.CanarySize != tt.canary {
				t.Errorf("expected canary %d, got %d", tt.canary, plan.CanarySize)
			}
			if fmt.Sprint(plan.BatchSizes) != fmt.Sprint(tt.batches) {
				t.Errorf("expected batches %v, got %v", tt.batches, plan.BatchSizes)
			}
			if plan.HealthThresholdPercent != 95 || plan.HealthCheckIntervalSec != 600 {
				t.Errorf("unexpected policy %v/%d", plan.HealthThresholdPercent, plan.HealthCheckIntervalSec)
			}
			if err := engine.ValidatePlan(plan); err != nil {
				t.Errorf("default plan must be valid: %v", err)
			}
		})
	}
}

func TestGenerator_Generated(t *testing.T) {
	proposer := &fakeProposer{plan: &domain.Plan{CanarySize: 2, BatchSizes: []int{5}, HealthThresholdPercent: 90}}
	g := newGenerator(proposer, &fakeDevices{ids: fleetOf(7)})

	result, err := g.Generate(context.Background(), "acme", []string{"KB1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Source != SourceGenerated || result.IsDefaulted() {
		t.Errorf("expected generated, got %s (%s)", result.Source, result.Reason)
	}
	if result.Plan.ClientID != "acme" || result.Plan.ID.String() == "" || result.Plan.CreatedAt.IsZero() {
		t.Errorf("plan metadata not filled: %+v", result.Plan)
	}
	if len(result.Plan.PatchIDs) != 1 {
		t.Errorf("patch ids should be copied from request")
	}
	if len(proposer.got.DeviceIDs) != 7 {
		t.Errorf("proposer should see the device population, got %d", len(proposer.got.DeviceIDs))
	}
}

func TestGenerator_Defaulted(t *testing.T) {
	tests := []struct {
		name     string
		proposer Proposer
	}{
		{"no proposer", nil},
		{"proposer error", &fakeProposer{err: errors.New("model timeout")}},
		{"nil plan", &fakeProposer{}},
		{"invalid proposal", &fakeProposer{plan: &domain.Plan{CanarySize: -3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGenerator(tt.proposer, &fakeDevices{ids: fleetOf(30)})

			result, err := g.Generate(context.Background(), "acme", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsDefaulted() {
				t.Fatalf("expected defaulted, got %s", result.Source)
			}
			if result.Reason == "" {
				t.Error("defaulted result must carry a reason")
			}
			if result.Plan.CanarySize != 3 {
				t.Errorf("expected default canary 3, got %d", result.Plan.CanarySize)
			}
		})
	}
}

func TestGenerator_Errors(t *testing.T) {
	g := newGenerator(nil, &fakeDevices{err: errors.New("directory down")})

	if _, err := g.Generate(context.Background(), "acme", nil); err == nil {
		t.Error("expected device directory error")
	}

	_, err := g.Generate(context.Background(), "", nil)
	if !errors.Is(err, engine.ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan for empty client, got %v", err)
	}
}

func TestParseProposal(t *testing.T) {
	text := []byte(`Here is the plan:
{"canary_size": 4, "batches": [10, 20], "health_check_interval_minutes": 15,
 "rollback_threshold_percent": 10, "notes": "weekend rollout"}
Let me know if you need changes.`)

	plan, err := ParseProposal(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.CanarySize != 4 || fmt.Sprint(plan.BatchSizes) != "[10 20]" {
		t.Errorf("unexpected stages: %d %v", plan.CanarySize, plan.BatchSizes)
	}
	if plan.HealthCheckIntervalSec != 900 {
		t.Errorf("expected 900s interval, got %d", plan.HealthCheckIntervalSec)
	}
	if plan.HealthThresholdPercent != 90 {
		t.Errorf("expected threshold 90, got %v", plan.HealthThresholdPercent)
	}
}

func TestParseProposal_Defaults(t *testing.T) {
	plan, err := ParseProposal([]byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.CanarySize != 5 || fmt.Sprint(plan.BatchSizes) != "[30 30]" {
		t.Errorf("unexpected defaults: %d %v", plan.CanarySize, plan.BatchSizes)
	}
	if plan.HealthThresholdPercent != 95 {
		t.Errorf("expected threshold 95, got %v", plan.HealthThresholdPercent)
	}

	if _, err := ParseProposal([]byte("no json here")); !errors.Is(err, ErrNoPlanInResponse) {
		t.Errorf("expected ErrNoPlanInResponse, got %v", err)
	}
}

func TestHTTPProposer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Write([]byte(`{"canary_size": 1, "batches": [2]}`))
	}))
	defer srv.Close()

	plan, err := NewHTTPProposer(srv.URL, 0).Propose(context.Background(), Request{ClientID: "acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.CanarySize != 1 {
		t.Errorf("expected canary 1, got %d", plan.CanarySize)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	if _, err := NewHTTPProposer(failing.URL, 0).Propose(context.Background(), Request{}); err == nil {
		t.Error("expected error for 503")
	}
}

func TestLoadPlanFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	content := `client_id: acme
canary_size: 5
batch_sizes: [30, 30]
health_threshold_percent: 95
health_check_interval_sec: 600
patch_ids:
  - KB5034441
maintenance_window:
  cron: "0 1 * * SAT"
  duration_min: 120
  timezone: Europe/Berlin
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	plan, err := LoadPlanFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.ClientID != "acme" || plan.CanarySize != 5 || len(plan.BatchSizes) != 2 {
		t.Errorf("unexpected plan: %+v", plan)
	}
	if plan.MaintenanceWindow == nil || plan.MaintenanceWindow.DurationMin != 120 {
		t.Errorf("maintenance window not parsed: %+v", plan.MaintenanceWindow)
	}
}

func TestParsePlan_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"unknown field", "canary_size: 1\nbatchez: [1]\n"},
		{"negative canary", "canary_size: -1\n"},
		{"not yaml", "canary_size: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.data))
			if !errors.Is(err, engine.ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestLoadPlanFile_Missing(t *testing.T) {
	if _, err := LoadPlanFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
