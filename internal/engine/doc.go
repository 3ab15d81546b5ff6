// Package engine содержит чистую логику rollout без ввода-вывода:
//
//   - planner.go — Stage Planner: разбиение популяции устройств на стадии
//   - validate.go — валидация плана (InvalidPlanError)
package engine
