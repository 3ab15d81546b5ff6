// Package mq — транспорт событий PatchPilot поверх RabbitMQ.
//
// Сообщения о runs — только подсказки: источник истины — run в БД,
// поэтому потеря или дубль сообщения безопасны (Advance идемпотентен,
// а polling в Orchestrator подхватывает всё, что не дошло).
//
// Типы сообщений:
//   - run.pending    — создан новый run
//   - run.advance    — run нужно продвинуть (cancel, ручной advance)
//   - ticket.update  — текст для тикета run
//
// Exchanges:
//   - patchpilot.runs     — события runs
//   - patchpilot.tickets  — обновления тикетов
//   - patchpilot.dlq      — dead letter queue
package mq
