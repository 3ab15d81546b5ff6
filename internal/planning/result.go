package planning

import "github.com/thechetan9/SO-PatchPilot/internal/domain"

// Source — откуда взят план.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceDefaulted Source = "defaulted"
)

// Result — результат генерации плана.
//
// Reason заполнен только для SourceDefaulted.
type Result struct {
	Source Source       `json:"source"`
	Reason string       `json:"reason,omitempty"`
	Plan   *domain.Plan `json:"plan"`
}

// Generated — план, предложенный Proposer.
func Generated(plan *domain.Plan) Result {
	return Result{Source: SourceGenerated, Plan: plan}
}

// Defaulted — план по умолчанию с причиной отказа от предложения.
func Defaulted(plan *domain.Plan, reason string) Result {
	return Result{Source: SourceDefaulted, Reason: reason, Plan: plan}
}

// IsDefaulted проверяет, что план по умолчанию.
func (r Result) IsDefaulted() bool {
	return r.Source == SourceDefaulted
}
