package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// MaintenanceWindow — окно обслуживания плана.
type MaintenanceWindow struct {
	Cron        string `json:"cron"`
	DurationMin int    `json:"duration_min"`
	Timezone    string `json:"timezone,omitempty"`
}

// PlanResponse — план из API.
type PlanResponse struct {
	ID                     string             `json:"id"`
	ClientID               string             `json:"client_id"`
	CanarySize             int                `json:"canary_size"`
	BatchSizes             []int              `json:"batch_sizes"`
	HealthThresholdPercent float64            `json:"health_threshold_percent"`
	HealthCheckIntervalSec int                `json:"health_check_interval_sec"`
	PatchIDs               []string           `json:"patch_ids,omitempty"`
	MaintenanceWindow      *MaintenanceWindow `json:"maintenance_window,omitempty"`
	EstimatedDurationHours float64            `json:"estimated_duration_hours,omitempty"`
	Notes                  string             `json:"notes,omitempty"`
	CreatedAt              string             `json:"created_at"`
}

// GeneratePlanResponse — результат генерации плана.
type GeneratePlanResponse struct {
	Source string       `json:"source"`
	Reason string       `json:"reason,omitempty"`
	Plan   PlanResponse `json:"plan"`
}

// StageResponse — стадия run.
type StageResponse struct {
	ID        int      `json:"stage_id"`
	Kind      string   `json:"kind"`
	Size      int      `json:"size"`
	DeviceIDs []string `json:"device_ids"`
}

// HealthResponse — состояние health gate.
type HealthResponse struct {
	State       string   `json:"state"`
	Attempts    int      `json:"attempts"`
	NextProbeAt string   `json:"next_probe_at"`
	LastPercent *float64 `json:"last_percent,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID              string          `json:"id"`
	PlanID          string          `json:"plan_id"`
	ClientID        string          `json:"client_id"`
	Status          string          `json:"status"`
	CurrentStage    int             `json:"current_stage"`
	Stages          []StageResponse `json:"stages"`
	DeviceCount     int             `json:"device_count"`
	Health          *HealthResponse `json:"health,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	StartedAt       string          `json:"started_at,omitempty"`
	EndedAt         string          `json:"ended_at,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       string          `json:"created_at"`
}

// DeviceResult — результат по устройству.
type DeviceResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Handle string `json:"handle,omitempty"`
}

// OutcomeResponse — запись журнала стадий.
type OutcomeResponse struct {
	StageID       int                     `json:"stage_id"`
	Kind          string                  `json:"kind"`
	Attempted     int                     `json:"attempted"`
	Succeeded     int                     `json:"succeeded"`
	Failed        int                     `json:"failed"`
	HealthPercent *float64                `json:"health_percent,omitempty"`
	Verdict       string                  `json:"verdict"`
	DeviceResults map[string]DeviceResult `json:"device_results,omitempty"`
	RecordedAt    string                  `json:"recorded_at"`
}

// --- Request types ---

// CreateRunRequest — старт run.
type CreateRunRequest struct {
	PlanID   string `json:"plan_id"`
	ClientID string `json:"client_id,omitempty"`
}

// GeneratePlanRequest — генерация плана.
type GeneratePlanRequest struct {
	ClientID string   `json:"client_id"`
	PatchIDs []string `json:"patch_ids,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	ClientID string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data json.RawMessage `json:"data,omitempty"`
}

// APIError — ошибка, которую вернул API.
//
// Data — тело, пришедшее вместе с ошибкой (например, run в FAILED
// при недоступном коллабораторе).
type APIError struct {
	Status  int
	Code    string
	Message string
	Data    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для PatchPilot API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// --- Plans ---

// ListPlans возвращает планы (клиента, если clientID не пустой).
func (c *Client) ListPlans(clientID string) ([]PlanResponse, error) {
	params := url.Values{}
	if clientID != "" {
		params.Set("client_id", clientID)
	}

	var plans []PlanResponse
	err := c.list("/api/v1/plans", params, &plans)
	return plans, err
}

// CreatePlan создаёт план. body сериализуется как JSON.
func (c *Client) CreatePlan(body any) (*PlanResponse, error) {
	var plan PlanResponse
	err := c.post("/api/v1/plans", body, &plan)
	return &plan, err
}

// GetPlan возвращает план по ID.
func (c *Client) GetPlan(id string) (*PlanResponse, error) {
	var plan PlanResponse
	err := c.get("/api/v1/plans/"+id, &plan)
	return &plan, err
}

// GeneratePlan генерирует и сохраняет план для клиента.
func (c *Client) GeneratePlan(req GeneratePlanRequest) (*GeneratePlanResponse, error) {
	var res GeneratePlanResponse
	err := c.post("/api/v1/plans/generate", req, &res)
	return &res, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.ClientID != "" {
		params.Set("client_id", opts.ClientID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun стартует run по плану.
func (c *Client) StartRun(req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// ListOutcomes возвращает журнал стадий run (stage < 0 — все стадии).
func (c *Client) ListOutcomes(runID string, stage int) ([]OutcomeResponse, error) {
	params := url.Values{}
	if stage >= 0 {
		params.Set("stage", strconv.Itoa(stage))
	}

	var outcomes []OutcomeResponse
	err := c.list("/api/v1/runs/"+runID+"/outcomes", params, &outcomes)
	return outcomes, err
}

// AdvanceRun продвигает run.
func (c *Client) AdvanceRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/advance", nil, &run)
	return &run, err
}

// CancelRun запрашивает отмену run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return apiErr
	}

	apiErr.Code = er.Error.Code
	apiErr.Message = er.Error.Message
	apiErr.Data = er.Data
	return apiErr
}
