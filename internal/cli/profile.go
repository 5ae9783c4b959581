package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/app"
)

func newProfileCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profile plugin associations",
	}
	cmd.AddCommand(
		newProfileListCmd(g),
		newProfileAddCmd(g),
		newProfileRemoveCmd(g),
		newProfileToggleCmd(g, true),
		newProfileToggleCmd(g, false),
		newProfileShowCmd(g),
		newProfileSetOriginalCmd(g),
		newProfileDriftCmd(g),
	)
	return cmd
}

func newProfileListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles with associations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(a *app.Application) error {
				for _, p := range a.Associations().Profiles() {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
}

func newProfileAddCmd(g *globals) *cobra.Command {
	var disabled bool
	cmd := &cobra.Command{
		Use:   "add <profile> <plugin>...",
		Short: "Associate plugins with a profile",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				for _, id := range args[1:] {
					if !a.Library().IsInstalled(id) {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is not installed\n", id)
					}
				}
				added, err := a.Associations().AddMany(args[0], args[1:], !disabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d plugin(s) to %s\n", len(added), args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "add the associations disabled")
	return cmd
}

func newProfileRemoveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <profile> [plugin...]",
		Short: "Remove plugins from a profile, or the whole profile",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				if len(args) == 1 {
					removed, err := a.Associations().RemoveProfile(args[0])
					if err != nil {
						return err
					}
					if removed {
						fmt.Fprintf(cmd.OutOrStdout(), "Removed profile %s\n", args[0])
					}
					return nil
				}
				removed, err := a.Associations().RemoveMany(args[0], args[1:])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d plugin(s) from %s\n", len(removed), args[0])
				return nil
			})
		},
	}
}

// newProfileToggleCmd builds enable and disable. Both the association and
// the plugin's profile config are updated, since loading needs both.
func newProfileToggleCmd(g *globals, enable bool) *cobra.Command {
	use, verb := "disable", "Disabled"
	if enable {
		use, verb = "enable", "Enabled"
	}
	return &cobra.Command{
		Use:   use + " <profile> <plugin>",
		Short: verb[:len(verb)-1] + " a plugin in a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, id := args[0], args[1]
			return g.withApp(func(a *app.Application) error {
				if err := a.Associations().SetEnabled(profile, id, enable); err != nil {
					return err
				}
				ctx := cmd.Context()
				var err error
				if enable {
					err = a.Host().EnablePlugin(ctx, profile, id)
				} else {
					err = a.Host().DisablePlugin(ctx, profile, id)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s in %s\n", verb, id, profile)
				return nil
			})
		},
	}
}

type profileEntry struct {
	PluginID  string    `json:"pluginId"`
	Enabled   bool      `json:"enabled"`
	Installed bool      `json:"installed"`
	AddedAt   time.Time `json:"addedAt"`
}

func newProfileShowCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <profile>",
		Short: "Show the plugins associated with a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				var entries []profileEntry
				for _, e := range a.Associations().Entries(args[0]) {
					entries = append(entries, profileEntry{
						PluginID:  e.PluginID,
						Enabled:   e.Enabled,
						Installed: a.Library().IsInstalled(e.PluginID),
						AddedAt:   e.AddedAt,
					})
				}
				if asJSON {
					if entries == nil {
						entries = []profileEntry{}
					}
					return printJSON(cmd.OutOrStdout(), entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{e.PluginID, yesNo(e.Enabled), yesNo(e.Installed)})
				}
				return printTable(cmd.OutOrStdout(), []string{"PLUGIN", "ENABLED", "INSTALLED"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newProfileSetOriginalCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set-original <profile> [plugin...]",
		Short: "Record the plugin set a profile started from",
		Long: `Record the plugin set a profile started from. Without plugins the
profile's current associations are recorded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				ids := args[1:]
				if len(ids) == 0 {
					ids = a.Associations().Plugins(args[0])
				}
				if err := a.Associations().SetOriginal(args[0], ids); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d original plugin(s) for %s\n", len(ids), args[0])
				return nil
			})
		},
	}
}

func newProfileDriftCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "drift <profile>",
		Short: "Show how a profile differs from its original plugin set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				d := a.Associations().Drift(args[0])
				out := cmd.OutOrStdout()
				if len(d.Added) == 0 && len(d.Removed) == 0 {
					fmt.Fprintf(out, "%s matches its original plugin set\n", args[0])
					return nil
				}
				for _, id := range d.Added {
					fmt.Fprintf(out, "+ %s\n", id)
				}
				for _, id := range d.Removed {
					fmt.Fprintf(out, "- %s\n", id)
				}
				return nil
			})
		},
	}
}
