// Package cli implements the plughost command line.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/app"
)

// Version is the host version reported by --version.
var Version = "dev"

// globals holds the persistent flags.
type globals struct {
	cfgFile  string
	logLevel string
	errOut   io.Writer
}

// open builds the application for one command. The caller closes it.
func (g *globals) open() (*app.Application, error) {
	return app.New(app.Options{
		ConfigPath: g.cfgFile,
		LogLevel:   g.logLevel,
		LogOut:     g.errOut,
	})
}

// withApp runs fn with a freshly built application.
func (g *globals) withApp(fn func(a *app.Application) error) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// NewDefaultCommand creates the root command writing to the process
// streams.
func NewDefaultCommand() *cobra.Command {
	return NewCommand(os.Stdout, os.Stderr)
}

// NewCommand creates the root command. Command output goes to out, logs
// and errors to errOut.
func NewCommand(out, errOut io.Writer) *cobra.Command {
	g := &globals{errOut: errOut}

	root := &cobra.Command{
		Use:   "plughost",
		Short: "plughost - sandboxed script plugin host",
		Long: `plughost installs script plugins into a shared library, associates
them with profiles and runs the plugins of a profile in isolated Lua or
JavaScript sandboxes with permission-gated capabilities.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file, TOML or YAML (default: built-in settings)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	root.AddCommand(
		newInstallCmd(g),
		newUninstallCmd(g),
		newListCmd(g),
		newCheckUpdateCmd(g),
		newUpdateCmd(g),
		newProfileCmd(g),
		newRunCmd(g),
	)
	return root
}
