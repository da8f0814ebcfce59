package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
	"github.com/bnema/stackops/internal/domain"
	"github.com/bnema/stackops/internal/lock"
)

// newSnapshotCmd creates the snapshot command group.
func newSnapshotCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage rollback snapshots",
	}

	cmd.AddCommand(newSnapshotListCmd(configPath))
	cmd.AddCommand(newSnapshotCreateCmd(configPath))
	cmd.AddCommand(newSnapshotDeleteCmd(configPath))
	cmd.AddCommand(newSnapshotPruneCmd(configPath))

	return cmd
}

func newSnapshotListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <target>",
		Short: "List a target's snapshots",
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

			snapshots, err := k.Snapshots.List(target)
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println(theme.Muted.Render("No snapshots found"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCREATED\tSERVICES")
			for _, s := range snapshots {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.ID, s.Kind, humanize.Time(s.CreatedAt), len(s.Versions))
			}
			return w.Flush()
		},
	}
}

func newSnapshotCreateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "create <target>",
		Short: "Capture a snapshot of a target's current state",
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

			l, err := lock.Acquire(target)
			if err != nil {
				return err
			}
			defer l.Release()

			snap, err := k.Snapshots.CaptureAndResume(cmd.Context(), target, domain.SnapshotPreUpdate)
			if err != nil {
				return err
			}

			fmt.Println(theme.Success.Render("Snapshot created: " + snap.ID))
			return nil
		},
	}
}

func newSnapshotDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target> <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(2),
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

			if err := k.Snapshots.Delete(target, args[1]); err != nil {
				return err
			}

			fmt.Println(theme.Success.Render("Snapshot deleted: " + args[1]))
			return nil
		},
	}
}

func newSnapshotPruneCmd(configPath *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune <target>",
		Short: "Delete old snapshots, keeping the most recent ones",
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

			if !cmd.Flags().Changed("keep") {
				keep = k.Config.Update.SnapshotKeep
			}

			l, err := lock.Acquire(target)
			if err != nil {
				return err
			}
			defer l.Release()

			pruned, err := k.Snapshots.Prune(target, keep)
			if err != nil {
				return err
			}

			fmt.Println(theme.Success.Render(fmt.Sprintf("Pruned %d snapshot(s), kept %d", pruned, keep)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "Snapshots to keep (defaults to update.snapshot_keep)")

	return cmd
}
