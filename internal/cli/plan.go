package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thechetan9/SO-PatchPilot/internal/planning"
)

// NewPlanCmd создаёт группу команд для управления планами.
func NewPlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage patch plans",
	}

	cmd.AddCommand(
		newPlanListCmd(clientFn, outputFn),
		newPlanCreateCmd(clientFn, outputFn),
		newPlanShowCmd(clientFn, outputFn),
		newPlanGenerateCmd(clientFn, outputFn),
	)

	return cmd
}

var planHeaders = []string{"ID", "CLIENT", "CANARY", "BATCHES", "THRESHOLD", "INTERVAL", "CREATED"}

func planRow(p PlanResponse) []string {
	batches := make([]string, len(p.BatchSizes))
	for i, b := range p.BatchSizes {
		batches[i] = strconv.Itoa(b)
	}
	return []string{
		p.ID,
		p.ClientID,
		strconv.Itoa(p.CanarySize),
		strings.Join(batches, ","),
		strconv.FormatFloat(p.HealthThresholdPercent, 'f', -1, 64) + "%",
		strconv.Itoa(p.HealthCheckIntervalSec) + "s",
		p.CreatedAt,
	}
}

func newPlanListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			plans, err := client.ListPlans(clientID)
			if err != nil {
				return err
			}

			rows := make([][]string, len(plans))
			for i, p := range plans {
				rows[i] = planRow(p)
			}

			out.Print(planHeaders, rows, plans)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Filter by client ID")

	return cmd
}

func newPlanCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string
	var clientID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			// Файл проверяется локально, до отправки в API
			plan, err := planning.LoadPlanFile(file)
			if err != nil {
				return err
			}
			if clientID != "" {
				plan.ClientID = clientID
			}

			created, err := client.CreatePlan(plan)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Plan created: %s", created.ID))
			out.Print(planHeaders, [][]string{planRow(*created)}, created)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to plan YAML file (required)")
	cmd.Flags().StringVar(&clientID, "client", "", "Client ID (overrides client_id from the file)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newPlanShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show plan details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			plan, err := client.GetPlan(args[0])
			if err != nil {
				return err
			}

			out.Print(planHeaders, [][]string{planRow(*plan)}, plan)
			return nil
		},
	}
}

func newPlanGenerateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var patchIDs []string

	cmd := &cobra.Command{
		Use:   "generate CLIENT_ID",
		Short: "Generate a plan for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.GeneratePlan(GeneratePlanRequest{ClientID: args[0], PatchIDs: patchIDs})
			if err != nil {
				return err
			}

			if res.Source == "defaulted" {
				out.Success(fmt.Sprintf("Default plan created: %s (%s)", res.Plan.ID, res.Reason))
			} else {
				out.Success(fmt.Sprintf("Plan generated: %s", res.Plan.ID))
			}
			out.Print(planHeaders, [][]string{planRow(res.Plan)}, res)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&patchIDs, "patch", nil, "Patch IDs to apply (repeatable)")

	return cmd
}
