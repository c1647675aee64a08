package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/harun/nocl/pkg/memory"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directory and a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}

			path := loader.GetConfigPath()
			if _, err := os.Stat(path); err != nil {
				if err := loader.Save(cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}

			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				status, err := rt.layer.Status(ctx)
				if err != nil {
					return err
				}
				if !status.Available {
					fmt.Fprintln(cmd.OutOrStdout(), "Memory backend unavailable, running in mock mode")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Memory initialized for project %q (%s)\n", rt.cfg.Project, status.Backend)
				return nil
			})
		},
	}
}

func newDecisionCmd(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decision <content>",
		Short: "Store an architectural decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.layer.StoreDecision(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stored decision")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "context", "", "reasoning behind the decision")
	return cmd
}

func newContextCmd(opts *options) *cobra.Command {
	var expires float64
	cmd := &cobra.Command{
		Use:   "context <content>",
		Short: "Store short-lived working context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.layer.StoreContext(ctx, args[0], hours(expires)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored context (expires in %gh)\n", expires)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&expires, "expires", 24, "lifetime in hours")
	return cmd
}

func newInsightCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "insight <content>",
		Short: "Store a learned pattern or insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.layer.StoreInsight(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stored insight")
				return nil
			})
		},
	}
}

func newFactCmd(opts *options) *cobra.Command {
	var expires float64
	cmd := &cobra.Command{
		Use:   "fact <content>",
		Short: "Store a fact, optionally expiring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.layer.StoreFact(ctx, args[0], hours(expires)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Stored fact")
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&expires, "expires", 0, "lifetime in hours (0 never expires)")
	return cmd
}

func newCacheCmd(opts *options) *cobra.Command {
	var ttl float64
	cmd := &cobra.Command{
		Use:   "cache <tool> <args-json> <result>",
		Short: "Cache a tool result",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseArgs(args[1])
			if err != nil {
				return err
			}
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				if err := rt.layer.CacheToolResult(ctx, args[0], toolArgs, args[2], hours(ttl)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cached %s result\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&ttl, "ttl", 1, "cache lifetime in hours")
	return cmd
}

func newRecallCmd(opts *options) *cobra.Command {
	var (
		confidence float64
		depth      int
	)
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Recall memories matching a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				result, err := rt.layer.Recall(ctx, args[0], confidence, depth)
				if err != nil {
					return err
				}
				if result == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No relevant memory found")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", memory.DefaultRecallConfidence, "minimum match confidence")
	cmd.Flags().IntVar(&depth, "depth", memory.DefaultDepth, "maximum number of matches")
	return cmd
}

func newTaskCmd(opts *options) *cobra.Command {
	var maxTokens int
	cmd := &cobra.Command{
		Use:   "task <description>",
		Short: "Print the memory context for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				text, err := rt.layer.TaskContext(ctx, args[0], maxTokens)
				if err != nil {
					return err
				}
				if text == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No relevant memory found")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 500, "approximate token budget")
	return cmd
}

func parseArgs(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tool arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
