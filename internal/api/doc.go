// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler с DI (runs, plans, generator, publisher, logger)
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery)
//   - response.go     — унифицированные JSON-ответы и маппинг ошибок в статусы
//   - dto.go          — Data Transfer Objects (request/response)
//   - plan_handler.go — обработчики для /plans
//   - run_handler.go  — обработчики для /runs
//
// API предоставляет REST endpoints для планов и rollout runs.
package api
