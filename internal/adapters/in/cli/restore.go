package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
	"github.com/bnema/stackops/internal/codec"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/lock"
	"github.com/bnema/stackops/internal/usecase/restore"
)

// newRestoreCmd creates the restore command.
func newRestoreCmd(configPath *string) *cobra.Command {
	var (
		destination string
		password    string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "restore <target> <archive>",
		Short: "Restore a target from a backup archive",
		Long: `Restore replaces a target's state with the contents of a backup
archive. A dry run validates the archive and reports what a live
restore would do without touching the target.`,
		Args: cobra.ExactArgs(2),
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

			req := restore.Request{
				Target:      target,
				Destination: destination,
				Archive:     args[1],
				DryRun:      dryRun,
			}
			if req.Destination == "" {
				req.Destination = k.Config.Backup.Destination
			}
			if codec.IsEncrypted(req.Archive) {
				req.Password, err = resolvePassword(password, "Archive password:")
				if err != nil {
					return err
				}
			}

			if !dryRun {
				l, err := lock.Acquire(target)
				if err != nil {
					return err
				}
				defer l.Release()
			}

			report, err := k.Restores.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			printRestoreReport(report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Archive destination (local path or s3:// URL)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Archive password (prompted if omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the archive without touching the target")

	return cmd
}

func printRestoreReport(report domain.RestoreReport) {
	header := "Restore complete"
	if report.DryRun {
		header = "Dry run complete"
	}
	if report.OK() {
		fmt.Println(theme.Success.Render(header))
	} else {
		fmt.Println(theme.Warning.Render(header + " with failures"))
	}

	for _, c := range report.Components {
		switch c.Status {
		case domain.ComponentOK:
			fmt.Printf("  %s %-12s %s\n", theme.Success.Render("ok"), c.Component, c.Detail)
		case domain.ComponentEmpty:
			fmt.Printf("  %s %-12s empty, nothing to restore\n", theme.Muted.Render("--"), c.Component)
		case domain.ComponentSoftFailed:
			fmt.Printf("  %s %-12s %s (%v)\n", theme.Error.Render("!!"), c.Component, c.Detail, c.Err)
		}
	}
}
