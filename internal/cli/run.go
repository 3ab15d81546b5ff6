package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage rollout runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunOutcomesCmd(clientFn, outputFn),
		newRunAdvanceCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "CLIENT", "STATUS", "STAGE", "DEVICES", "REASON", "CREATED"}

func runRow(r RunResponse) []string {
	stage := "-"
	if len(r.Stages) > 0 {
		stage = fmt.Sprintf("%d/%d", r.CurrentStage+1, len(r.Stages))
	}
	return []string{r.ID, r.ClientID, r.Status, stage, strconv.Itoa(r.DeviceCount), r.Reason, r.CreatedAt}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clientID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				ClientID: clientID,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Filter by client ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, HEALTH_CHECK, ROLLING_BACK, COMPLETED, ROLLED_BACK, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "start PLAN_ID",
		Short: "Start a rollout run for an approved plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.StartRun(CreateRunRequest{PlanID: args[0], ClientID: clientID})
			if err != nil {
				// Run мог быть создан в FAILED — показываем его ID
				var apiErr *APIError
				if errors.As(err, &apiErr) && len(apiErr.Data) > 0 {
					out.JSON(apiErr.Data)
				}
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Client ID (defaults to the plan's client)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}

func newRunOutcomesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var stage int

	cmd := &cobra.Command{
		Use:   "outcomes RUN_ID",
		Short: "List stage outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			outcomes, err := client.ListOutcomes(args[0], stage)
			if err != nil {
				return err
			}

			headers := []string{"STAGE", "KIND", "ATTEMPTED", "SUCCEEDED", "FAILED", "HEALTH", "VERDICT", "RECORDED"}
			rows := make([][]string, len(outcomes))
			for i, o := range outcomes {
				health := "-"
				if o.HealthPercent != nil {
					health = strconv.FormatFloat(*o.HealthPercent, 'f', 1, 64) + "%"
				}
				rows[i] = []string{
					strconv.Itoa(o.StageID),
					o.Kind,
					strconv.Itoa(o.Attempted),
					strconv.Itoa(o.Succeeded),
					strconv.Itoa(o.Failed),
					health,
					o.Verdict,
					o.RecordedAt,
				}
			}

			out.Print(headers, rows, outcomes)
			return nil
		},
	}

	cmd.Flags().IntVar(&stage, "stage", -1, "Show outcomes of one stage only")

	return cmd
}

func newRunAdvanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "advance ID",
		Short: "Advance a run to its next waiting point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.AdvanceRun(args[0])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			if run.Status == "FAILED" {
				out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			} else {
				out.Success(fmt.Sprintf("Cancel requested: %s (%s)", run.ID, run.Status))
			}
			return nil
		},
	}
}
