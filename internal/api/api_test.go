package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/orchestrator"
	"github.com/thechetan9/SO-PatchPilot/internal/planning"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
	"github.com/thechetan9/SO-PatchPilot/internal/rollout"
)

// memPlans — PlanStore и orchestrator.PlanSource в памяти.
type memPlans struct {
	mu    sync.Mutex
	plans map[uuid.UUID]domain.Plan
	order []uuid.UUID
}

func newMemPlans() *memPlans {
	return &memPlans{plans: make(map[uuid.UUID]domain.Plan)}
}

func (m *memPlans) Create(_ context.Context, plan *domain.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; ok {
		return repo.ErrAlreadyExists
	}
	m.plans[plan.ID] = *plan
	m.order = append(m.order, plan.ID)
	return nil
}

func (m *memPlans) GetPlan(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &p, nil
}

func (m *memPlans) List(_ context.Context, clientID string, limit, offset int) ([]domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Plan
	for _, id := range m.order {
		p := m.plans[id]
		if clientID != "" && p.ClientID != clientID {
			continue
		}
		result = append(result, p)
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// directory — устройства по клиентам.
type directory struct {
	clients map[string][]string
	err     error
}

func (d *directory) ResolveDevices(_ context.Context, clientID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.clients[clientID], nil
}

// healthyFleet принимает все команды, все устройства здоровы.
type healthyFleet struct{}

func (healthyFleet) Dispatch(_ context.Context, deviceID string, _ []string) (rollout.Receipt, error) {
	return rollout.Receipt{Accepted: true, Handle: "cmd-" + deviceID}, nil
}

func (healthyFleet) Revert(_ context.Context, deviceID string, _ []string) (rollout.Receipt, error) {
	return rollout.Receipt{Accepted: true, Handle: "rb-" + deviceID}, nil
}

func (healthyFleet) Probe(_ context.Context, _ string) (rollout.ProbeResult, error) {
	return rollout.ProbeResult{Healthy: true}, nil
}

type recordingEvents struct {
	mu      sync.Mutex
	pending []uuid.UUID
}

func (e *recordingEvents) PublishRunPending(_ context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, runID)
	return nil
}

// recordingArchiver — orchestrator.Archiver, запоминающий отчёты.
type recordingArchiver struct {
	mu      sync.Mutex
	reports map[uuid.UUID]domain.RunStatus
}

func (a *recordingArchiver) Archive(_ context.Context, run *domain.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports[run.ID] = run.Status
	return nil
}

func (a *recordingArchiver) report(id uuid.UUID) (domain.RunStatus, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	status, ok := a.reports[id]
	return status, ok
}

type testServer struct {
	plans    *memPlans
	devices  *directory
	events   *recordingEvents
	archiver *recordingArchiver
	server   *httptest.Server
}

func newTestServer(t *testing.T, withGenerator bool) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	plans := newMemPlans()
	devices := &directory{clients: map[string][]string{
		"acme": deviceIDs(12),
	}}
	events := &recordingEvents{}
	archiver := &recordingArchiver{reports: make(map[uuid.UUID]domain.RunStatus)}

	controller := orchestrator.NewController(orchestrator.ControllerConfig{
		Store:               repo.NewMemoryRunRepo(),
		Plans:               plans,
		Devices:             devices,
		Executor:            healthyFleet{},
		Prober:              healthyFleet{},
		Archiver:            archiver,
		Concurrency:         4,
		CollaboratorRetries: 1,
		CollaboratorBackoff: time.Millisecond,
		Logger:              logger,
	})

	cfg := Config{
		Runs:   controller,
		Plans:  plans,
		Events: events,
		Logger: logger,
	}
	if withGenerator {
		cfg.Generator = planning.NewGenerator(nil, devices, logger)
	}

	mux := http.NewServeMux()
	NewHandler(cfg).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testServer{plans: plans, devices: devices, events: events, archiver: archiver, server: srv}
}

func deviceIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("ws-%03d", i)
	}
	return ids
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type planEnvelope struct {
	Data PlanResponse `json:"data"`
}

type runEnvelope struct {
	Data RunResponse `json:"data"`
}

type errorEnvelope struct {
	Error ErrorDetail  `json:"error"`
	Data  *RunResponse `json:"data"`
}

func validPlanRequest() CreatePlanRequest {
	return CreatePlanRequest{
		ClientID:               "acme",
		CanarySize:             2,
		BatchSizes:             []int{5, 5},
		HealthThresholdPercent: 95,
		HealthCheckIntervalSec: 60,
		PatchIDs:               []string{"KB5034441"},
	}
}

func (s *testServer) createPlan(t *testing.T) PlanResponse {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/v1/plans", validPlanRequest())
	if status != http.StatusCreated {
		t.Fatalf("create plan: expected 201, got %d: %s", status, body)
	}
	return decode[planEnvelope](t, body).Data
}

func TestCreateAndGetPlan(t *testing.T) {
	s := newTestServer(t, false)

	plan := s.createPlan(t)
	if plan.ID == uuid.Nil {
		t.Fatal("expected plan id to be assigned")
	}

	status, body := s.do(t, http.MethodGet, "/api/v1/plans/"+plan.ID.String(), nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	got := decode[planEnvelope](t, body).Data
	if got.CanarySize != 2 || len(got.BatchSizes) != 2 || got.ClientID != "acme" {
		t.Errorf("unexpected plan: %+v", got)
	}

	status, body = s.do(t, http.MethodGet, "/api/v1/plans?client_id=acme", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	list := decode[ListResponse](t, body)
	if list.Total != 1 {
		t.Errorf("expected 1 plan, got %d", list.Total)
	}
}

func TestCreatePlan_Errors(t *testing.T) {
	s := newTestServer(t, false)

	negative := validPlanRequest()
	negative.CanarySize = -1

	noClient := validPlanRequest()
	noClient.ClientID = ""

	badWindow := validPlanRequest()
	badWindow.MaintenanceWindow = &domain.MaintenanceWindow{Cron: "nightly", DurationMin: 60}

	tests := []struct {
		name   string
		body   any
		status int
		code   ErrorCode
	}{
		{"malformed body", "{", http.StatusBadRequest, ErrCodeBadRequest},
		{"negative canary", negative, http.StatusBadRequest, ErrCodeInvalidPlan},
		{"missing client", noClient, http.StatusBadRequest, ErrCodeInvalidPlan},
		{"bad window", badWindow, http.StatusBadRequest, ErrCodeInvalidPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/v1/plans", tt.body)
			if status != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, status, body)
			}
			if got := decode[errorEnvelope](t, body).Error.Code; got != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestGetPlan_Errors(t *testing.T) {
	s := newTestServer(t, false)

	status, _ := s.do(t, http.MethodGet, "/api/v1/plans/not-a-uuid", nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", status)
	}

	status, _ = s.do(t, http.MethodGet, "/api/v1/plans/"+uuid.NewString(), nil)
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown plan, got %d", status)
	}
}

func TestGeneratePlan(t *testing.T) {
	s := newTestServer(t, true)

	status, body := s.do(t, http.MethodPost, "/api/v1/plans/generate", GeneratePlanRequest{ClientID: "acme"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}

	resp := decode[struct {
		Data GeneratePlanResponse `json:"data"`
	}](t, body)

	if resp.Data.Source != string(planning.SourceDefaulted) {
		t.Errorf("expected defaulted source, got %q", resp.Data.Source)
	}
	if resp.Data.Reason == "" {
		t.Error("expected a reason for the defaulted plan")
	}
	if resp.Data.Plan.CanarySize != 1 {
		t.Errorf("expected canary 1 for 12 devices, got %d", resp.Data.Plan.CanarySize)
	}

	// План сохранён и доступен по ID
	if _, err := s.plans.GetPlan(context.Background(), resp.Data.Plan.ID); err != nil {
		t.Errorf("generated plan not stored: %v", err)
	}
}

func TestGeneratePlan_Errors(t *testing.T) {
	s := newTestServer(t, false)

	status, _ := s.do(t, http.MethodPost, "/api/v1/plans/generate", GeneratePlanRequest{ClientID: "acme"})
	if status != http.StatusNotFound {
		t.Errorf("expected 404 without generator, got %d", status)
	}

	s = newTestServer(t, true)
	status, _ = s.do(t, http.MethodPost, "/api/v1/plans/generate", GeneratePlanRequest{})
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 without client_id, got %d", status)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	plan := s.createPlan(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PlanID: plan.ID, ClientID: "acme"})
	if status != http.StatusCreated {
		t.Fatalf("start run: expected 201, got %d: %s", status, body)
	}
	run := decode[runEnvelope](t, body).Data

	if run.Status != string(domain.RunStatusPending) {
		t.Errorf("expected PENDING, got %s", run.Status)
	}
	if run.DeviceCount != 12 || len(run.Stages) != 3 {
		t.Errorf("expected 12 devices in 3 stages, got %d in %d", run.DeviceCount, len(run.Stages))
	}
	if len(s.events.pending) != 1 || s.events.pending[0] != run.ID {
		t.Errorf("expected run.pending published for %s, got %v", run.ID, s.events.pending)
	}

	status, body = s.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/advance", nil)
	if status != http.StatusOK {
		t.Fatalf("advance: expected 200, got %d: %s", status, body)
	}
	run = decode[runEnvelope](t, body).Data
	if run.Status != string(domain.RunStatusCompleted) {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}

	status, body = s.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/outcomes", nil)
	if status != http.StatusOK {
		t.Fatalf("outcomes: expected 200, got %d", status)
	}
	if list := decode[ListResponse](t, body); list.Total != 3 {
		t.Errorf("expected 3 outcomes, got %d", list.Total)
	}

	status, body = s.do(t, http.MethodGet, "/api/v1/runs/"+run.ID.String()+"/outcomes?stage=1", nil)
	if status != http.StatusOK {
		t.Fatalf("stage outcomes: expected 200, got %d", status)
	}
	if list := decode[ListResponse](t, body); list.Total != 1 {
		t.Errorf("expected 1 outcome for stage 1, got %d", list.Total)
	}

	// Отмена завершённого run
	status, body = s.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("cancel finished: expected 422, got %d: %s", status, body)
	}
	if got := decode[errorEnvelope](t, body); got.Error.Code != ErrCodeInvalidState || got.Data == nil {
		t.Errorf("expected INVALID_STATE with run data, got %+v", got)
	}

	status, body = s.do(t, http.MethodGet, "/api/v1/runs?status=COMPLETED", nil)
	if status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", status)
	}
	if list := decode[ListResponse](t, body); list.Total != 1 {
		t.Errorf("expected 1 completed run, got %d", list.Total)
	}
}

func TestCancelRun_Pending(t *testing.T) {
	s := newTestServer(t, false)
	plan := s.createPlan(t)

	_, body := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PlanID: plan.ID})
	run := decode[runEnvelope](t, body).Data

	status, body := s.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	run = decode[runEnvelope](t, body).Data
	if run.Status != string(domain.RunStatusFailed) || run.Reason != domain.ReasonCancelled {
		t.Errorf("expected FAILED(cancelled), got %s(%s)", run.Status, run.Reason)
	}
	if status, ok := s.archiver.report(run.ID); !ok || status != domain.RunStatusFailed {
		t.Errorf("run cancelled via api must be archived, got %q (archived=%v)", status, ok)
	}
}

func TestStartRun_Errors(t *testing.T) {
	s := newTestServer(t, false)

	status, _ := s.do(t, http.MethodPost, "/api/v1/runs", "{")
	if status != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", status)
	}

	status, _ = s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{})
	if status != http.StatusBadRequest {
		t.Errorf("missing plan_id: expected 400, got %d", status)
	}

	status, body := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PlanID: uuid.New()})
	if status != http.StatusNotFound {
		t.Errorf("unknown plan: expected 404, got %d: %s", status, body)
	}
}

func TestStartRun_DeviceDirectoryUnavailable(t *testing.T) {
	s := newTestServer(t, false)
	plan := s.createPlan(t)
	s.devices.err = errors.New("connection refused")

	status, body := s.do(t, http.MethodPost, "/api/v1/runs", CreateRunRequest{PlanID: plan.ID})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", status, body)
	}

	got := decode[errorEnvelope](t, body)
	if got.Error.Code != ErrCodeCollaboratorUnavailable {
		t.Errorf("expected COLLABORATOR_UNAVAILABLE, got %s", got.Error.Code)
	}
	if got.Data == nil || got.Data.Status != string(domain.RunStatusFailed) {
		t.Fatalf("expected FAILED run in data, got %+v", got.Data)
	}
	if len(s.events.pending) != 0 {
		t.Errorf("failed run must not be published, got %v", s.events.pending)
	}
	if status, ok := s.archiver.report(got.Data.ID); !ok || status != domain.RunStatusFailed {
		t.Errorf("run failed at start must be archived, got %q (archived=%v)", status, ok)
	}
}

func TestRunEndpoints_Errors(t *testing.T) {
	s := newTestServer(t, false)
	unknown := uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"get invalid id", http.MethodGet, "/api/v1/runs/xyz", http.StatusBadRequest},
		{"get unknown", http.MethodGet, "/api/v1/runs/" + unknown, http.StatusNotFound},
		{"outcomes unknown", http.MethodGet, "/api/v1/runs/" + unknown + "/outcomes", http.StatusNotFound},
		{"advance unknown", http.MethodPost, "/api/v1/runs/" + unknown + "/advance", http.StatusNotFound},
		{"cancel unknown", http.MethodPost, "/api/v1/runs/" + unknown + "/cancel", http.StatusNotFound},
		{"list invalid status", http.MethodGet, "/api/v1/runs?status=DONE", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, tt.method, tt.path, nil)
			if status != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, status, body)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", orchestrator.ErrRunAlreadyActive), http.StatusConflict},
		{repo.ErrVersionConflict, http.StatusConflict},
		{orchestrator.ErrRunNotCancellable, http.StatusUnprocessableEntity},
		{orchestrator.ErrPersistence, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, got)
		}
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Chain(Recovery(logger), Logging(logger))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
