package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
	"github.com/bnema/stackops/internal/domain"
)

// newHealthCmd creates the health command.
func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health <target>",
		Short: "Run the health checks against a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel(*configPath, false)
			if err != nil {
				return err
			}
			defer k.Close()

			target, err := app.LoadInstance(k.Config, args[0])
			if err != nil {
				return err
			}

			report := k.Health.Check(cmd.Context(), target)
			printHealthReport(report)

			if !report.Healthy() {
				return domain.ErrHealthCheckFailed
			}
			return nil
		},
	}
}

func printHealthReport(report domain.HealthReport) {
	for _, f := range report.Findings {
		mark := theme.Success.Render("ok")
		if !f.OK {
			mark = theme.Error.Render("!!")
		}
		fmt.Printf("  %s %-16s %s\n", mark, f.Check, f.Detail)
	}

	if report.Healthy() {
		fmt.Println(theme.Success.Render("Healthy: " + report.Summary()))
	} else {
		fmt.Println(theme.Error.Render("Unhealthy: " + report.Summary()))
	}
}
