package planning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// ErrNoPlanInResponse — в ответе сервиса планирования нет JSON-объекта.
var ErrNoPlanInResponse = errors.New("no plan in response")

// HTTPProposer запрашивает план у внешнего сервиса планирования.
//
// Сервис получает Request и отвечает текстом, внутри которого есть
// JSON-объект плана (ответ модели может содержать пояснения вокруг него).
type HTTPProposer struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProposer создаёт HTTPProposer.
func NewHTTPProposer(url string, timeout time.Duration) *HTTPProposer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProposer{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// proposal — план в формате сервиса планирования.
type proposal struct {
	CanarySize                 *int     `json:"canary_size"`
	Batches                    []int    `json:"batches"`
	HealthCheckIntervalMinutes *int     `json:"health_check_interval_minutes"`
	RollbackThresholdPercent   *float64 `json:"rollback_threshold_percent"`
	EstimatedDurationHours     float64  `json:"estimated_duration_hours"`
	Notes                      string   `json:"notes"`
}

// Propose запрашивает план.
func (p *HTTPProposer) Propose(ctx context.Context, req Request) (*domain.Plan, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("planning service: HTTP %d", resp.StatusCode)
	}

	return ParseProposal(respBody)
}

// ParseProposal извлекает план из текста ответа: берётся фрагмент от
// первой '{' до последней '}'. Отсутствующие поля заполняются значениями
// по умолчанию.
func ParseProposal(text []byte) (*domain.Plan, error) {
	start := bytes.IndexByte(text, '{')
	end := bytes.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, ErrNoPlanInResponse
	}

	var p proposal
	if err := json.Unmarshal(text[start:end+1], &p); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}

	plan := &domain.Plan{
		CanarySize:             5,
		BatchSizes:             p.Batches,
		HealthThresholdPercent: DefaultHealthThresholdPercent,
		HealthCheckIntervalSec: DefaultHealthCheckIntervalSec,
		EstimatedDurationHours: p.EstimatedDurationHours,
		Notes:                  p.Notes,
	}
	if p.CanarySize != nil {
		plan.CanarySize = *p.CanarySize
	}
	if p.Batches == nil {
		plan.BatchSizes = []int{30, 30}
	}
	if p.HealthCheckIntervalMinutes != nil {
		plan.HealthCheckIntervalSec = *p.HealthCheckIntervalMinutes * 60
	}
	// Сервис задаёт допустимую долю отказов, план — порог здоровья
	if p.RollbackThresholdPercent != nil {
		plan.HealthThresholdPercent = 100 - *p.RollbackThresholdPercent
	}
	if plan.EstimatedDurationHours == 0 {
		plan.EstimatedDurationHours = DefaultEstimatedHours
	}
	if plan.Notes == "" {
		plan.Notes = "Standard patch plan"
	}

	return plan, nil
}
