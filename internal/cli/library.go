package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/app"
	"github.com/dshills/plughost/internal/plugin/library"
	"github.com/dshills/plughost/internal/plugin/manifest"
	"github.com/dshills/plughost/internal/plugin/security"
)

func newInstallCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "install <package-dir>",
		Short: "Install a plugin package into the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.LoadDir(args[0])
			if err != nil {
				return err
			}
			return g.withApp(func(a *app.Application) error {
				e, err := a.Library().Install(m.ID, args[0], library.SourceExternal)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Installed %s %s\n", e.ID, e.Version)
				return nil
			})
		},
	}
}

func newUninstallCmd(g *globals) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "uninstall <plugin>",
		Short: "Remove a plugin from the library",
		Long: `Remove a plugin from the library. A plugin still associated with a
profile is kept unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				if err := a.Library().Uninstall(args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "uninstall even when profiles reference the plugin")
	return cmd
}

func newListCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withApp(func(a *app.Application) error {
				entries := a.Library().List()
				views := make([]pluginView, 0, len(entries))
				for _, e := range entries {
					var perms []string
					if m, err := a.Library().Manifest(e.ID); err == nil {
						perms = m.Permissions
					}
					views = append(views, pluginView{Entry: e, Permissions: describePermissions(perms)})
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), views)
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					refs := a.Associations().ProfilesReferencing(v.ID)
					rows = append(rows, []string{
						v.ID, v.Version, string(v.Source),
						v.InstalledAt.Local().Format(time.DateTime),
						fmt.Sprint(len(refs)),
						highestRisk(v.Permissions),
					})
				}
				return printTable(cmd.OutOrStdout(), []string{"ID", "VERSION", "SOURCE", "INSTALLED", "PROFILES", "RISK"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// pluginView is an installed plugin with its declared permissions.
type pluginView struct {
	library.Entry
	Permissions []permissionView `json:"permissions"`
}

type permissionView struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Risk        string `json:"risk"`
	risk        security.RiskLevel
	known       bool
}

func describePermissions(perms []string) []permissionView {
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		v := permissionView{Name: p, Risk: "unknown"}
		if info, ok := security.GetPermissionInfo(security.Permission(p)); ok {
			v.Name = string(info.Name)
			v.DisplayName = info.DisplayName
			v.Risk = info.RiskLevel.String()
			v.risk = info.RiskLevel
			v.known = true
		}
		out = append(out, v)
	}
	return out
}

// highestRisk returns the highest risk among known permissions, or "-".
func highestRisk(perms []permissionView) string {
	var top *permissionView
	for i := range perms {
		if perms[i].known && (top == nil || perms[i].risk > top.risk) {
			top = &perms[i]
		}
	}
	if top == nil {
		return "-"
	}
	return top.Risk
}

func newCheckUpdateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check-update <plugin> <package-dir>",
		Short: "Report whether a package is newer than the installed plugin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				info, newer, err := a.Library().CheckForUpdate(args[0], args[1])
				if err != nil {
					return err
				}
				if !newer {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s is up to date\n", info.ID, info.InstalledVersion)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", info.ID, info.InstalledVersion, info.CandidateVersion)
				return nil
			})
		},
	}
}

func newUpdateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "update <plugin> <package-dir>",
		Short: "Replace an installed plugin with a newer package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(func(a *app.Application) error {
				e, err := a.Library().Update(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s to %s\n", e.ID, e.Version)
				return nil
			})
		},
	}
}
