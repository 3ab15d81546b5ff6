package mq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunPending   MessageType = "run.pending"
	MessageTypeRunAdvance   MessageType = "run.advance"
	MessageTypeTicketUpdate MessageType = "ticket.update"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunPendingPayload — создан новый run.
type RunPendingPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunAdvancePayload — просьба продвинуть run (cancel, ручной advance).
type RunAdvancePayload struct {
	RunID  uuid.UUID `json:"run_id"`
	Reason string    `json:"reason,omitempty"`
}

// TicketUpdatePayload — сообщение для тикета run.
type TicketUpdatePayload struct {
	RunID   uuid.UUID `json:"run_id"`
	Message string    `json:"message"`
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после json.Unmarshal приходит как map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}

// ParseRunID извлекает run_id из сообщений о runs.
func ParseRunID(msg *Message) (uuid.UUID, error) {
	switch msg.Type {
	case MessageTypeRunPending, MessageTypeRunAdvance, MessageTypeTicketUpdate:
	default:
		return uuid.Nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}

	payload, err := ParsePayload[RunAdvancePayload](msg)
	if err != nil {
		return uuid.Nil, err
	}
	if payload.RunID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("message %s: missing run_id", msg.ID)
	}
	return payload.RunID, nil
}
