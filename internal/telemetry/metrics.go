package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики rollout. Регистрируются в prometheus.DefaultRegisterer
// и отдаются через promhttp.Handler() на /metrics.
var (
	// RunTransitions — переходы run между статусами.
	RunTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchpilot_run_transitions_total",
		Help: "Total run status transitions",
	}, []string{"from", "to"})

	// DeviceOperations — операции над устройствами (dispatch, revert, probe) по результату.
	DeviceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchpilot_device_operations_total",
		Help: "Total per-device operations by result",
	}, []string{"operation", "result"})

	// StageHealthPercent — распределение health percent при решении health gate.
	StageHealthPercent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchpilot_stage_health_percent",
		Help:    "Observed stage health percent at gate evaluation",
		Buckets: []float64{50, 80, 90, 95, 98, 99, 100},
	})

	// RunsFinished — завершённые run по финальному статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchpilot_runs_finished_total",
		Help: "Total runs reaching a terminal status",
	}, []string{"status"})

	// HTTPRequests — запросы к API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchpilot_api_http_requests_total",
		Help: "Total HTTP requests handled by patchpilot_api",
	}, []string{"method", "status"})
)

// Значения метки result.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ObserveTransition учитывает переход run.
func ObserveTransition(from, to string) {
	RunTransitions.WithLabelValues(from, to).Inc()
}

// ObserveDeviceOperation учитывает операцию над устройством.
func ObserveDeviceOperation(operation string, ok bool) {
	result := ResultOK
	if !ok {
		result = ResultError
	}
	DeviceOperations.WithLabelValues(operation, result).Inc()
}
