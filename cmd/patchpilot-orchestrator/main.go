// PatchPilot Orchestrator — продвигает rollout runs.
//
// Orchestrator:
//   - Получает run.pending / run.advance из RabbitMQ
//   - Периодически опрашивает активные runs (ожидание health gate, окна обслуживания)
//   - Отправляет патчи на устройства стадиями и проверяет здоровье
//   - Пишет сообщения в тикеты и архивирует отчёты завершённых runs
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thechetan9/SO-PatchPilot/internal/archive"
	"github.com/thechetan9/SO-PatchPilot/internal/config"
	"github.com/thechetan9/SO-PatchPilot/internal/fleet"
	"github.com/thechetan9/SO-PatchPilot/internal/mq"
	"github.com/thechetan9/SO-PatchPilot/internal/notify"
	"github.com/thechetan9/SO-PatchPilot/internal/orchestrator"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting patchpilot-orchestrator")

	env := config.FromOS()
	cfg := config.LoadOrchestrator(env)
	for _, p := range env.Problems() {
		logger.Warn("invalid config value, using default", "problem", p)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	planRepo := repo.NewPlanRepo(pool)
	deviceRepo := repo.NewDeviceRepo(pool)

	// RabbitMQ
	notifier := notify.Multi{notify.NewLogNotifier(logger)}

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "patchpilot-orchestrator", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		notifier = append(notifier, notify.NewMQNotifier(mq.NewPublisher(mqConn, logger)))
	}

	// Архив отчётов (опционально)
	archiver := openArchive(ctx, cfg.Archive, logger)

	// RMM: Patch Executor и Health Prober
	rmm := fleet.NewClient(fleet.Config{
		BaseURL: cfg.RMMAPIURL,
		Token:   cfg.RMMAPIToken,
		Timeout: cfg.DeviceTimeout,
	})

	controller := orchestrator.NewController(orchestrator.ControllerConfig{
		Store:               runRepo,
		Plans:               planRepo,
		Devices:             deviceRepo,
		Executor:            rmm,
		Prober:              rmm,
		Notifier:            notifier,
		Archiver:            archiver,
		Concurrency:         cfg.DeviceConcurrency,
		DeviceTimeout:       cfg.DeviceTimeout,
		HealthMaxAttempts:   cfg.HealthMaxAttempts,
		HealthMaxBackoff:    cfg.HealthMaxBackoff,
		CollaboratorRetries: cfg.CollaboratorRetries,
		CollaboratorBackoff: cfg.CollaboratorBackoff,
		PersistRetries:      cfg.PersistRetries,
		ID:                  controllerID("patchpilot-orchestrator"),
		DispatchLease:       cfg.DispatchLease,
		Logger:              logger,
	})

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		Controller:   controller,
		Conn:         mqConn,
		PollInterval: cfg.PollInterval,
		Logger:       logger,
	})

	// Запускаем orchestrator
	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":" + cfg.Port

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем orchestrator
	orch.Stop()
	logger.Info("patchpilot-orchestrator stopped")
}

// openArchive подключает архив отчётов, если он настроен.
func openArchive(ctx context.Context, cfg config.Archive, logger *slog.Logger) orchestrator.Archiver {
	if !cfg.Enabled() {
		return nil
	}
	a, err := archive.NewMinIOArchiver(ctx, archive.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		logger.Warn("archive not available, reports disabled", "error", err)
		return nil
	}
	logger.Info("archive enabled", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return a
}

// controllerID — имя контроллера в заявках на отправку стадий.
func controllerID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s@%s/%d", service, host, os.Getpid())
}
