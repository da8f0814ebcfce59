package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bnema/stackops/internal/app"
)

// newVersionsCmd creates the versions command.
func newVersionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <target>",
		Short: "Show deployed versions against the latest published ones",
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

			current, err := k.Versions.Current(target)
			if err != nil {
				return err
			}
			latest := k.Versions.Latest(cmd.Context())
			plan := k.Versions.Diff(current, latest, nil)

			pending := make(map[string]string, len(plan.Updates))
			for _, u := range plan.Updates {
				pending[u.Service] = u.To
			}

			services := make([]string, 0, len(current))
			for name := range current {
				services = append(services, name)
			}
			sort.Strings(services)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tCURRENT\tLATEST\t")
			for _, name := range services {
				latestVersion := latest[name]
				status := ""
				if latestVersion == "" {
					latestVersion = "-"
				}
				if to, ok := pending[name]; ok {
					latestVersion = to
					status = theme.Warning.Render("update available")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, current[name], latestVersion, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if plan.Empty() {
				fmt.Println(theme.Success.Render("Everything is up to date"))
			} else {
				fmt.Println(theme.Title.Render(fmt.Sprintf("%d update(s) available, run: stackops update %s", len(plan.Updates), target.ID)))
			}
			return nil
		},
	}
}
