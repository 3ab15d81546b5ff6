// Package rollout выполняет операции над устройствами одной стадии.
//
// Компоненты (все stateless, вызываются Run Controller'ом):
//   - BatchExecutor — отправляет патч-операции на каждое устройство стадии
//   - HealthGate — опрашивает здоровье устройств и выносит вердикт
//   - RollbackCoordinator — откатывает стадию
//
// Операции над устройствами выполняются параллельно через ограниченный
// пул (errgroup.SetLimit). Ошибка одного устройства никогда не прерывает
// остальные: она записывается в StageOutcome как результат этого устройства.
//
// Интерфейсы коллабораторов (Patch Executor, Health Prober) описаны
// в interfaces.go; HTTP-реализация — в пакете fleet.
package rollout
