package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns    Exchange = "patchpilot.runs"
	ExchangeTickets Exchange = "patchpilot.tickets"
	ExchangeDLQ     Exchange = "patchpilot.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsPending    Queue = "runs.pending"
	QueueRunsAdvance    Queue = "runs.advance"
	QueueTicketsUpdates Queue = "tickets.updates"
	QueueDLQRuns        Queue = "dlq.runs"
	QueueDLQTickets     Queue = "dlq.tickets"
)

// Routing keys.
const (
	RoutingKeyPending    RoutingKey = "pending"
	RoutingKeyAdvance    RoutingKey = "advance"
	RoutingKeyUpdate     RoutingKey = "update"
	RoutingKeyDLQRuns    RoutingKey = "runs"
	RoutingKeyDLQTickets RoutingKey = "tickets"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

func deadLetter(key RoutingKey) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(key),
	}
}

// topology возвращает объявления exchanges, queues и bindings.
func topology() ([]exchangeDecl, []queueDecl, []bindingDecl) {
	exchanges := []exchangeDecl{
		{ExchangeRuns, "direct"},
		{ExchangeTickets, "direct"},
		{ExchangeDLQ, "direct"},
	}

	queues := []queueDecl{
		// Сообщения о runs — только подсказки контроллеру, состояние в БД.
		// Повторно упавшее сообщение уходит в DLQ
		{QueueRunsPending, deadLetter(RoutingKeyDLQRuns)},
		{QueueRunsAdvance, deadLetter(RoutingKeyDLQRuns)},

		// tickets.updates — сообщения для тикетной системы
		{QueueTicketsUpdates, deadLetter(RoutingKeyDLQTickets)},

		{QueueDLQRuns, nil},
		{QueueDLQTickets, nil},
	}

	bindings := []bindingDecl{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueRunsAdvance, RoutingKeyAdvance, ExchangeRuns},
		{QueueTicketsUpdates, RoutingKeyUpdate, ExchangeTickets},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
		{QueueDLQTickets, RoutingKeyDLQTickets, ExchangeDLQ},
	}

	return exchanges, queues, bindings
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchanges {
			err := ch.ExchangeDeclare(
				string(ex.name), // name
				ex.kind,         // type
				true,            // durable
				false,           // auto-deleted
				false,           // internal
				false,           // no-wait
				nil,             // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queues {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindings {
			err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  PatchPilot RabbitMQ Topology:

    patchpilot.runs (direct)
    ├── runs.pending [routing: pending]
    │       Consumer: Orchestrator
    └── runs.advance [routing: advance]
            Consumer: Orchestrator

    patchpilot.tickets (direct)
    └── tickets.updates [routing: update]
            Consumer: ticket system bridge

    patchpilot.dlq (direct)
    ├── dlq.runs [routing: runs]
    └── dlq.tickets [routing: tickets]
            Manual processing
  `
}
