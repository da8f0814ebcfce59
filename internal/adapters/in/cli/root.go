// Package cli implements the CLI adapter for stackops.
// This package provides Cobra commands that delegate to the app layer.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/usecase/update"
)

// NewRootCmd creates the root command for the stackops CLI.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "stackops",
		Short: "stackops - lifecycle operations for multi-service container stacks",
		Long: `stackops manages the risky parts of running externally provisioned
container stacks on a single host: version updates with automatic
snapshot rollback, and typed, integrity-checked, optionally encrypted
backup and restore.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(newUpdateCmd(&configPath))
	rootCmd.AddCommand(newBackupCmd(&configPath))
	rootCmd.AddCommand(newRestoreCmd(&configPath))
	rootCmd.AddCommand(newSnapshotCmd(&configPath))
	rootCmd.AddCommand(newVersionsCmd(&configPath))
	rootCmd.AddCommand(newHealthCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("stackops %s\n", app.Version)
		},
	}
}

// newKernel builds the service kernel with the interactive confirmer.
// assumeYes short-circuits every prompt for non-interactive use.
func newKernel(configPath string, assumeYes bool) (*app.Kernel, error) {
	return app.NewKernel(configPath, confirmUpdate(assumeYes))
}

// confirmUpdate renders the applied diff and asks the operator to keep or
// roll back the update.
func confirmUpdate(assumeYes bool) update.Confirmer {
	return func(_ context.Context, plan domain.UpdatePlan, report domain.HealthReport) (bool, error) {
		fmt.Println(theme.Title.Render("Applied updates:"))
		for _, u := range plan.Updates {
			fmt.Printf("  %-12s %s -> %s\n", u.Service, u.From, u.To)
		}
		fmt.Println(theme.Success.Render("Health: " + report.Summary()))

		if assumeYes {
			return true, nil
		}

		keep := false
		prompt := &survey.Confirm{
			Message: "Keep this update?",
			Default: true,
		}
		if err := survey.AskOne(prompt, &keep); err != nil {
			return false, err
		}
		return keep, nil
	}
}

// askPassword prompts for an archive password without echoing it.
func askPassword(message string) (string, error) {
	password := ""
	if err := survey.AskOne(&survey.Password{Message: message}, &password); err != nil {
		return "", err
	}
	if password == "" {
		return "", domain.ErrEmptyPassword
	}
	return password, nil
}

// resolvePassword picks the password from a flag, the environment or an
// interactive prompt, in that order.
func resolvePassword(flagValue, promptMessage string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("STACKOPS_PASSWORD"); env != "" {
		return env, nil
	}
	return askPassword(promptMessage)
}

func printSoftFailures(results []domain.ComponentResult) {
	for _, r := range results {
		if r.Failed() {
			fmt.Println(theme.Warning.Render(fmt.Sprintf("  ! %s: %s (%v)", r.Component, r.Detail, r.Err)))
		}
	}
}
