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
	"github.com/bnema/stackops/internal/usecase/backup"
)

// newBackupCmd creates the backup command and its list subcommand.
func newBackupCmd(configPath *string) *cobra.Command {
	var (
		backupType  string
		destination string
		encrypt     bool
		password    string
		keep        int
	)

	cmd := &cobra.Command{
		Use:   "backup <target>",
		Short: "Back up a target's components into a portable archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseBackupType(backupType)
			if err != nil {
				return fmt.Errorf("backup type %q: %w", backupType, err)
			}

			k, err := newKernel(*configPath, false)
			if err != nil {
				return err
			}
			defer k.Close()

			target, err := app.LoadInstance(k.Config, args[0])
			if err != nil {
				return err
			}

			req := backup.Request{
				Target:      target,
				Type:        t,
				Destination: destination,
				Encrypt:     encrypt,
				Retention:   domain.RetentionPolicy{Keep: keep},
			}
			if req.Destination == "" {
				req.Destination = k.Config.Backup.Destination
			}
			if !cmd.Flags().Changed("keep") {
				req.Retention.Keep = k.Config.Backup.Keep
			}
			if encrypt {
				req.Password, err = resolvePassword(password, "Archive password:")
				if err != nil {
					return err
				}
			}

			l, err := lock.Acquire(target)
			if err != nil {
				return err
			}
			defer l.Release()

			run, err := k.Backups.Run(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Println(theme.Success.Render(fmt.Sprintf("Backup complete: %s (%s)",
				run.ArchiveName, humanize.Bytes(uint64(run.SizeBytes)))))
			printSoftFailures(run.Components)
			if run.Pruned > 0 {
				fmt.Println(theme.Muted.Render(fmt.Sprintf("Pruned %d old archive(s)", run.Pruned)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&backupType, "type", "t", "full", "Backup type (full, database, storage, functions, config)")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Archive destination (local path or s3:// URL)")
	cmd.Flags().BoolVarP(&encrypt, "encrypt", "e", false, "Encrypt the archive with a password")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Archive password (prompted if omitted)")
	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "Archives of this type to keep at the destination (0 keeps all)")

	cmd.AddCommand(newBackupListCmd(configPath))

	return cmd
}

// newBackupListCmd creates the backup list subcommand.
func newBackupListCmd(configPath *string) *cobra.Command {
	var (
		backupType  string
		destination string
	)

	cmd := &cobra.Command{
		Use:   "list <target>",
		Short: "List archives for a target at a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t domain.BackupType
			if backupType != "" {
				parsed, err := domain.ParseBackupType(backupType)
				if err != nil {
					return fmt.Errorf("backup type %q: %w", backupType, err)
				}
				t = parsed
			}

			k, err := newKernel(*configPath, false)
			if err != nil {
				return err
			}
			defer k.Close()

			target, err := app.LoadInstance(k.Config, args[0])
			if err != nil {
				return err
			}

			if destination == "" {
				destination = k.Config.Backup.Destination
			}

			archives, err := k.Backups.ListArchives(cmd.Context(), target, destination, t)
			if err != nil {
				return err
			}
			if len(archives) == 0 {
				fmt.Println(theme.Muted.Render("No archives found"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tAGE")
			for _, a := range archives {
				age := "unknown"
				if !a.ModTime.IsZero() {
					age = humanize.Time(a.ModTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, humanize.Bytes(uint64(a.Size)), age)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&backupType, "type", "t", "", "Filter by backup type")
	cmd.Flags().StringVarP(&destination, "destination", "d", "", "Archive destination (local path or s3:// URL)")

	return cmd
}
