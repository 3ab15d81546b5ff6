// Package notify — реализации Ticket Notifier.
//
// Сообщения о ходе run доставляются в тикет best-effort: ошибки
// возвращаются вызывающему, который только логирует их.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Notifier отправляет текстовое сообщение в тикет run.
type Notifier interface {
	Notify(ctx context.Context, runID uuid.UUID, message string) error
}

// TicketPublisher публикует обновления тикетов (mq.Publisher).
type TicketPublisher interface {
	PublishTicketUpdate(ctx context.Context, runID uuid.UUID, message string) error
}

// MQNotifier публикует сообщения в очередь tickets.updates,
// откуда их забирает мост в тикетную систему.
type MQNotifier struct {
	publisher TicketPublisher
}

// NewMQNotifier создаёт MQNotifier.
func NewMQNotifier(publisher TicketPublisher) *MQNotifier {
	return &MQNotifier{publisher: publisher}
}

// Notify публикует сообщение.
func (n *MQNotifier) Notify(ctx context.Context, runID uuid.UUID, message string) error {
	return n.publisher.PublishTicketUpdate(ctx, runID, message)
}

// LogNotifier пишет сообщения в лог. Для локального запуска.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify пишет сообщение в лог.
func (n *LogNotifier) Notify(_ context.Context, runID uuid.UUID, message string) error {
	n.logger.Info("ticket update", "run_id", runID, "message", message)
	return nil
}

// Multi рассылает сообщение всем notifiers.
// Ошибка одного не мешает остальным; ошибки объединяются.
type Multi []Notifier

// Notify отправляет сообщение каждому notifier.
func (m Multi) Notify(ctx context.Context, runID uuid.UUID, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, runID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
