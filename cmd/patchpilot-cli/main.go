// PatchPilot CLI — инструмент командной строки для управления
// планами патчинга и rollout runs через HTTP API.
//
// Использование:
//
//	patchpilot [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	plan  Управление планами
//	run   Управление rollout runs
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thechetan9/SO-PatchPilot/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "patchpilot",
		Short:         "PatchPilot CLI — staged, health-gated patch rollouts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("PATCHPILOT_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewPlanCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
