package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/pkg/apperrors"
)

const version = "0.1.0"

// NewRootCommand builds the `ralphx` command tree (spec §6): add, projects,
// loops, run, serve, doctor, guardrails, mcp.
func NewRootCommand() *cobra.Command {
	var projectDir string
	var logLevel string

	root := &cobra.Command{
		Use:           "ralphx",
		Short:         "RalphX — orchestrates long-running, iterative LLM-driven work loops",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&projectDir, "project", "p", mustGetwd(), "project directory (defaults to the current directory)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newAddCommand(&projectDir, &logLevel),
		newProjectsCommand(&projectDir, &logLevel),
		newLoopsCommand(&projectDir, &logLevel),
		newRunCommand(&projectDir, &logLevel),
		newServeCommand(&projectDir, &logLevel),
		newDoctorCommand(&projectDir, &logLevel),
		newGuardrailsCommand(&projectDir, &logLevel),
		newMCPCommand(),
	)
	return root
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// Execute runs root and translates a returned error into the spec §6 exit
// code convention: 0 success, 1 user-visible failure, 2 usage error.
func Execute(root *cobra.Command) int {
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ralphx: "+err.Error())
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.CodeValidation {
			return 2
		}
		return 1
	}
	return 0
}
