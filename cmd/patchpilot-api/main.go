// PatchPilot API — HTTP API для планов и rollout runs.
//
// API:
//   - Принимает одобренные планы и генерирует планы для клиентов
//   - Стартует runs и публикует run.pending в RabbitMQ
//   - Отдаёт состояние runs и журнал стадий, принимает advance/cancel
//   - Архивирует отчёты runs, завершённых в этом процессе
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thechetan9/SO-PatchPilot/internal/api"
	"github.com/thechetan9/SO-PatchPilot/internal/archive"
	"github.com/thechetan9/SO-PatchPilot/internal/config"
	"github.com/thechetan9/SO-PatchPilot/internal/fleet"
	"github.com/thechetan9/SO-PatchPilot/internal/mq"
	"github.com/thechetan9/SO-PatchPilot/internal/notify"
	"github.com/thechetan9/SO-PatchPilot/internal/orchestrator"
	"github.com/thechetan9/SO-PatchPilot/internal/planning"
	"github.com/thechetan9/SO-PatchPilot/internal/repo"
	"github.com/thechetan9/SO-PatchPilot/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting patchpilot-api")

	env := config.FromOS()
	cfg := config.LoadAPI(env)
	for _, p := range env.Problems() {
		logger.Warn("invalid config value, using default", "problem", p)
	}

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	planRepo := repo.NewPlanRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	deviceRepo := repo.NewDeviceRepo(pool)

	// RabbitMQ: без него API работает, orchestrator найдёт runs polling'ом
	var events api.RunEvents
	notifier := notify.Multi{notify.NewLogNotifier(logger)}

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, "patchpilot-api", logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, run events disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(context.Background(), mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher := mq.NewPublisher(mqConn, logger)
		events = publisher
		notifier = append(notifier, notify.NewMQNotifier(publisher))
	}

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
		Archiver:            openArchive(context.Background(), cfg.Archive, logger),
		Concurrency:         cfg.DeviceConcurrency,
		DeviceTimeout:       cfg.DeviceTimeout,
		HealthMaxAttempts:   cfg.HealthMaxAttempts,
		HealthMaxBackoff:    cfg.HealthMaxBackoff,
		CollaboratorRetries: cfg.CollaboratorRetries,
		CollaboratorBackoff: cfg.CollaboratorBackoff,
		PersistRetries:      cfg.PersistRetries,
		ID:                  controllerID("patchpilot-api"),
		DispatchLease:       cfg.DispatchLease,
		Logger:              logger,
	})

	// Генератор планов: без PLANNER_URL всегда план по умолчанию
	var proposer planning.Proposer
	if cfg.PlannerURL != "" {
		proposer = planning.NewHTTPProposer(cfg.PlannerURL, 0)
	}
	generator := planning.NewGenerator(proposer, deviceRepo, logger)

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Runs:      controller,
		Plans:     planRepo,
		Generator: generator,
		Events:    events,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":" + cfg.Port

	// Создаём HTTP сервер с возможностью graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Запускаем сервер в горутине
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
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
