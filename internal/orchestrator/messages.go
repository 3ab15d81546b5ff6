package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// statusMessage формирует сообщение для тикета о текущем состоянии run.
//
// Если outcome не nil, добавляется блок о текущей стадии.
func statusMessage(run *domain.Run, outcome *domain.StageOutcome, now time.Time) string {
	var b strings.Builder

	b.WriteString("**EXECUTION STATUS UPDATE**\n\n")
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	fmt.Fprintf(&b, "Status: %s\n", run.Status)
	if run.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", run.Reason)
	}
	fmt.Fprintf(&b, "Updated: %s\n", now.UTC().Format(time.RFC3339))

	if outcome != nil {
		b.WriteString("\n")
		if outcome.Kind == domain.OutcomeKindRollback {
			b.WriteString("**Rolled Back Stage:**\n")
		} else {
			b.WriteString("**Current Stage:**\n")
		}
		fmt.Fprintf(&b, "- Stage: %d (%s)\n", outcome.StageID, stageKind(run, outcome.StageID))
		fmt.Fprintf(&b, "- Devices: %d\n", outcome.Attempted)
		fmt.Fprintf(&b, "- Successful: %d\n", outcome.Succeeded)
		fmt.Fprintf(&b, "- Failed: %d\n", outcome.Failed)
		if outcome.HealthPercent != nil {
			fmt.Fprintf(&b, "- Health: %.1f%% (threshold %.1f%%)\n", *outcome.HealthPercent, run.Policy.HealthThresholdPercent)
			fmt.Fprintf(&b, "- Verdict: %s\n", outcome.Verdict)
		}
	}

	if run.IsFinished() {
		fmt.Fprintf(&b, "\nStages: %d, devices: %d", len(run.Stages), run.DeviceCount())
		if d := run.Duration(); d > 0 {
			fmt.Fprintf(&b, ", duration: %s", d.Round(time.Second))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func stageKind(run *domain.Run, stageID int) domain.StageKind {
	if stageID >= 0 && stageID < len(run.Stages) {
		return run.Stages[stageID].Kind
	}
	return domain.StageKindBatch
}
