package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thechetan9/SO-PatchPilot/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Orchestrator — сервис, который продвигает runs.
//
// Источники работы:
//   - runs.pending и runs.advance из RabbitMQ (event-driven)
//   - периодический обход нефинальных runs в БД (polling)
//
// Polling нужен не только как fallback: run в HEALTH_CHECK ждёт
// next_probe_at, а run с закрытым окном обслуживания ждёт его открытия.
// Оба продолжаются только следующим вызовом Advance.
type Orchestrator struct {
	controller *Controller

	// MQ (nil — только polling)
	conn *mq.Connection

	pendingConsumer *mq.Consumer
	advanceConsumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Controller *Controller

	// Conn — соединение с RabbitMQ (опционально).
	Conn *mq.Connection

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // runs за один poll (default: 100)

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		controller:   cfg.Controller,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает consumers и polling. Не блокируется.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"batch_size", o.batchSize,
		"mq", o.conn != nil,
	)

	if o.conn != nil {
		o.pendingConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsPending,
			Handler:  o.handleRunMessage,
			Prefetch: 10,
		})
		o.advanceConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
			Queue:    mq.QueueRunsAdvance,
			Handler:  o.handleRunMessage,
			Prefetch: 10,
		})

		for _, c := range []*mq.Consumer{o.pendingConsumer, o.advanceConsumer} {
			o.wg.Add(1)
			go func(c *mq.Consumer) {
				defer o.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}(c)
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт текущие шаги.
//
// Run, прерванный на середине шага, продолжится со своей последней
// записанной точки после рестарта.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.pendingConsumer != nil {
		o.pendingConsumer.Stop()
	}
	if o.advanceConsumer != nil {
		o.advanceConsumer.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped",
		"active_runs", o.controller.ActiveRunsCount(),
	)
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл polling.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем runs, прерванные рестартом
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll продвигает все нефинальные runs, которыми не занят этот процесс.
func (o *Orchestrator) poll(ctx context.Context) {
	runs, err := o.controller.ListActive(ctx, o.batchSize)
	if err != nil {
		o.logger.Error("failed to list active runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	o.logger.Debug("poll found active runs", "count", len(runs))

	for i := range runs {
		if ctx.Err() != nil {
			return
		}

		run := &runs[i]
		if o.controller.IsActive(run.ID) {
			continue
		}

		if _, err := o.advance(ctx, run.ID); err != nil {
			o.logger.Error("failed to advance run from poll",
				"run_id", run.ID,
				"status", run.Status,
				"error", err,
			)
		}
	}
}
