package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/pkg/memory"
	"github.com/harun/nocl/pkg/router"
	"github.com/harun/nocl/pkg/session"
	"github.com/spf13/cobra"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <query>",
		Short: "Show where a query would be answered from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), router.Route(args[0]))
		},
	}
}

func newBuildCmd(opts *options) *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "build <task>",
		Short: "Assemble prompt context for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				a, err := rt.newAgent(workspace)
				if err != nil {
					return err
				}
				result, err := a.BuildContext(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace root for file tools")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "call <tool> [args-json]",
		Short: "Run a tool through the result cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			toolArgs, err := parseArgs(raw)
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				a, err := rt.newAgent(workspace)
				if err != nil {
					return err
				}
				outcome, err := a.SmartToolCall(ctx, args[0], toolArgs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), outcome)
			})
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace root for file tools")
	return cmd
}

func newMessageCmd(opts *options) *cobra.Command {
	var (
		sessionKey string
		role       string
	)
	cmd := &cobra.Command{
		Use:   "message <content>",
		Short: "Append a message to a session, compressing it when it grows too long",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				a, err := rt.newAgent("")
				if err != nil {
					return err
				}
				window, err := a.AddMessage(ctx, sessionKey, role, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s holds %d messages\n", sessionKey, len(window))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key")
	cmd.Flags().StringVar(&role, "role", session.RoleUser, "message role")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newPruneCmd(opts *options) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				pruner, err := memory.NewPruner(rt.layer, rt.cfg.Memory.PruneSchedule, rt.logger.With().Str("component", "pruner").Logger())
				if err != nil {
					return err
				}

				n, err := pruner.RunOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired memories\n", n)
				if !watch {
					return nil
				}

				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				if addr := rt.cfg.Telemetry.MetricsAddr; addr != "" {
					srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							rt.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
						}
					}()
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = srv.Shutdown(shutdownCtx)
					}()
				}

				if err := pruner.Start(ctx); err != nil {
					return err
				}
				defer pruner.Stop()

				fmt.Fprintf(cmd.OutOrStdout(), "Next prune at %s\n", pruner.Next().Format(time.RFC3339))
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and prune on the configured schedule")
	return cmd
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}
