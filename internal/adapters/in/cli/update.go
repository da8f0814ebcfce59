package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
	"github.com/bnema/stackops/internal/lock"
	"github.com/bnema/stackops/internal/usecase/update"
)

// newUpdateCmd creates the update command.
func newUpdateCmd(configPath *string) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "update <target> [service...]",
		Short: "Update a target's services with automatic snapshot rollback",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := newKernel(*configPath, assumeYes)
			if err != nil {
				return err
			}
			defer k.Close()

			target, err := app.LoadInstance(k.Config, args[0])
			if err != nil {
				return err
			}

			l, err := lock.Acquire(target)
			if err != nil {
				return err
			}
			defer l.Release()

			result, runErr := k.Updates.Run(cmd.Context(), update.Request{
				Target:   target,
				Services: args[1:],
			})

			printUpdateResult(result)
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Keep the update without prompting")

	return cmd
}

func printUpdateResult(result update.Result) {
	switch result.State {
	case update.StateCommitted:
		if result.Plan.Empty() {
			fmt.Println(theme.Success.Render("Already up to date"))
			break
		}
		fmt.Println(theme.Success.Render(fmt.Sprintf("Updated %d service(s)", len(result.Plan.Updates))))
		for _, u := range result.Plan.Updates {
			fmt.Printf("  %-12s %s -> %s\n", u.Service, u.From, u.To)
		}
		if result.PrunedImages > 0 {
			fmt.Println(theme.Muted.Render(fmt.Sprintf("Pruned %d old image(s)", result.PrunedImages)))
		}
	case update.StateRolledBack:
		fmt.Println(theme.Error.Render("Update rolled back: " + result.Reason))
		fmt.Println(theme.Muted.Render("Restored snapshot " + result.Pre.ID))
	default:
		fmt.Println(theme.Error.Render(fmt.Sprintf("Update stopped in state %s", result.State)))
	}

	for _, s := range result.Plan.NotFound {
		fmt.Println(theme.Warning.Render("  ? " + s + ": not present in this target, skipped"))
	}
}
