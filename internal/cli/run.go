package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/app"
	"github.com/dshills/plughost/internal/plugin/hook"
)

type runFlags struct {
	event  string
	data   string
	say    string
	action string
	args   string
	watch  bool
}

func (f runFlags) oneShot() bool {
	return f.event != "" || f.say != "" || f.action != ""
}

func newRunCmd(g *globals) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <profile>",
		Short: "Load the plugins of a profile",
		Long: `Load the enabled plugins of a profile.

With --event, --say or --action the request is delivered and the command
exits. Otherwise, or with --watch, plugins keep running until interrupted;
--watch also reloads plugins whose package changes on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseJSONArg("data", f.data)
			if err != nil {
				return err
			}
			actionArgs, err := parseJSONArg("args", f.args)
			if err != nil {
				return err
			}
			argMap, _ := actionArgs.(map[string]any)
			if actionArgs != nil && argMap == nil {
				return fmt.Errorf("--args must be a JSON object")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return g.withApp(func(a *app.Application) error {
				out := cmd.OutOrStdout()
				perform := func(ctx context.Context) error {
					report(out, a)
					return deliver(ctx, out, a, f, data, argMap)
				}

				if f.oneShot() && !f.watch {
					if err := a.Start(ctx, args[0]); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
					}
					return perform(ctx)
				}
				return a.Run(ctx, args[0], app.RunOptions{Watch: f.watch, Ready: perform})
			})
		},
	}

	cmd.Flags().StringVar(&f.event, "event", "", "broadcast an event to plugins")
	cmd.Flags().StringVar(&f.data, "data", "", "JSON payload of --event")
	cmd.Flags().StringVar(&f.say, "say", "", "deliver a recognized utterance to plugins")
	cmd.Flags().StringVar(&f.action, "action", "", "dispatch an action alias or plugin.<id>.<function>")
	cmd.Flags().StringVar(&f.args, "args", "", "JSON object passed to --action")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "keep running and reload changed packages")
	return cmd
}

// report prints the loaded and failed plugins of the active profile.
func report(out io.Writer, a *app.Application) {
	h := a.Host()
	fmt.Fprintf(out, "Profile %s: %d plugin(s) loaded\n", h.ActiveProfile(), len(h.Plugins()))
	for _, p := range h.Plugins() {
		info := p.Info()
		fmt.Fprintf(out, "  %s %s\n", info.ID, info.Version)
	}

	failures := h.Failures()
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s failed: %v\n", id, failures[id])
	}
}

// deliver runs the one-shot requests. Plugin failures are printed; they
// do not fail the command.
func deliver(ctx context.Context, out io.Writer, a *app.Application, f runFlags, data any, args map[string]any) error {
	h := a.Host()
	if f.event != "" {
		n, err := h.BroadcastEvent(ctx, f.event, data)
		fmt.Fprintf(out, "Event %s delivered to %d plugin(s)\n", f.event, n)
		if err != nil {
			fmt.Fprintf(out, "  errors: %v\n", err)
		}
	}
	if f.say != "" {
		n, err := h.HandleUtterance(ctx, f.say)
		fmt.Fprintf(out, "Utterance matched %d plugin(s)\n", n)
		if err != nil {
			fmt.Fprintf(out, "  errors: %v\n", err)
		}
	}
	if f.action != "" {
		res := a.Router().Dispatch(ctx, hook.Action{Name: f.action, Count: 1, Args: args})
		if res.Err != nil {
			return fmt.Errorf("action %s: %w", f.action, res.Err)
		}
		switch {
		case res.Message != "":
			fmt.Fprintf(out, "Action %s: %s\n", f.action, res.Message)
		case res.Value != nil:
			fmt.Fprintf(out, "Action %s: %v\n", f.action, res.Value)
		default:
			fmt.Fprintf(out, "Action %s: ok\n", f.action)
		}
	}
	return nil
}
