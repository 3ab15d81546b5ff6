package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishRunPending сообщает о новом run.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRunPending(ctx context.Context, runID uuid.UUID) error {
	msg := NewMessage(MessageTypeRunPending, RunPendingPayload{RunID: runID})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyPending, msg)
}

// PublishRunAdvance просит Orchestrator продвинуть run.
func (p *Publisher) PublishRunAdvance(ctx context.Context, runID uuid.UUID, reason string) error {
	msg := NewMessage(MessageTypeRunAdvance, RunAdvancePayload{RunID: runID, Reason: reason})
	return p.Publish(ctx, ExchangeRuns, RoutingKeyAdvance, msg)
}

// PublishTicketUpdate публикует сообщение для тикета run.
func (p *Publisher) PublishTicketUpdate(ctx context.Context, runID uuid.UUID, message string) error {
	msg := NewMessage(MessageTypeTicketUpdate, TicketUpdatePayload{RunID: runID, Message: message})
	return p.Publish(ctx, ExchangeTickets, RoutingKeyUpdate, msg)
}
