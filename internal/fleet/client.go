package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/thechetan9/SO-PatchPilot/internal/rollout"
)

const defaultTimeout = 30 * time.Second

// Операции патч-команды.
const (
	OperationInstall  = "Install"
	OperationRollback = "Rollback"
)

// PingOnline — ping status здорового агента.
const PingOnline = "Online"

// Client — клиент RMM API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config — конфигурация Client.
type Config struct {
	BaseURL string
	Token   string        // Bearer token (опционально)
	Timeout time.Duration // таймаут одного запроса (default: 30s)

	// HTTPClient — для тестов; по умолчанию http.Client с Timeout.
	HTTPClient *http.Client
}

// NewClient создаёт клиент RMM API.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}
}

type commandRequest struct {
	Operation string   `json:"operation"`
	PatchIDs  []string `json:"patch_ids,omitempty"`
}

type commandResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status,omitempty"`
}

type healthResponse struct {
	PingStatus   string `json:"ping_status"`
	AgentVersion string `json:"agent_version,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Dispatch отправляет команду установки патчей.
func (c *Client) Dispatch(ctx context.Context, deviceID string, patchIDs []string) (rollout.Receipt, error) {
	return c.command(ctx, deviceID, OperationInstall, patchIDs)
}

// Revert отправляет команду отката патчей.
func (c *Client) Revert(ctx context.Context, deviceID string, patchIDs []string) (rollout.Receipt, error) {
	return c.command(ctx, deviceID, OperationRollback, patchIDs)
}

// command отправляет команду агенту.
//
// 2xx — команда принята. 4xx — агент отказался (Accepted=false, без ошибки).
// 5xx и сетевые ошибки возвращаются как error.
func (c *Client) command(ctx context.Context, deviceID, operation string, patchIDs []string) (rollout.Receipt, error) {
	body, err := json.Marshal(commandRequest{Operation: operation, PatchIDs: patchIDs})
	if err != nil {
		return rollout.Receipt{}, fmt.Errorf("marshal command: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, c.devicePath(deviceID, "commands"), body)
	if err != nil {
		return rollout.Receipt{}, err
	}

	switch {
	case status >= 500:
		return rollout.Receipt{}, fmt.Errorf("%s %s: HTTP %d: %s", operation, deviceID, status, errorText(respBody))
	case status >= 400:
		return rollout.Receipt{Accepted: false, Detail: fmt.Sprintf("HTTP %d: %s", status, errorText(respBody))}, nil
	}

	var resp commandResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return rollout.Receipt{}, fmt.Errorf("decode command response: %w", err)
	}

	return rollout.Receipt{Accepted: true, Handle: resp.CommandID, Detail: resp.Status}, nil
}

// Probe запрашивает состояние агента. Устройство здорово, если агент Online.
// Неизвестное устройство (404) — нездорово, но не ошибка.
func (c *Client) Probe(ctx context.Context, deviceID string) (rollout.ProbeResult, error) {
	status, respBody, err := c.do(ctx, http.MethodGet, c.devicePath(deviceID, "health"), nil)
	if err != nil {
		return rollout.ProbeResult{}, err
	}

	switch {
	case status == http.StatusNotFound:
		return rollout.ProbeResult{Healthy: false, Detail: "device not found"}, nil
	case status >= 400:
		return rollout.ProbeResult{}, fmt.Errorf("health %s: HTTP %d: %s", deviceID, status, errorText(respBody))
	}

	var resp healthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return rollout.ProbeResult{}, fmt.Errorf("decode health response: %w", err)
	}

	return rollout.ProbeResult{
		Healthy: strings.EqualFold(resp.PingStatus, PingOnline),
		Detail:  resp.PingStatus,
	}, nil
}

func (c *Client) devicePath(deviceID, resource string) string {
	return c.baseURL + "/devices/" + url.PathEscape(deviceID) + "/" + resource
}

// do выполняет запрос и возвращает код ответа и тело.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// errorText достаёт сообщение об ошибке из тела ответа.
func errorText(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// truncate обрезает строку до maxLen байт, не разрывая UTF-8 символ.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
