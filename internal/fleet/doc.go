// Package fleet — HTTP клиент RMM API агентов на устройствах.
//
// Client реализует rollout.PatchExecutor (команды Install/Rollback)
// и rollout.HealthProber (ping status агента).
//
// API:
//   - POST {base}/devices/{id}/commands  {"operation", "patch_ids"} → {"command_id"}
//   - GET  {base}/devices/{id}/health    → {"ping_status", "agent_version"}
package fleet
