package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// options holds the global flags shared by every command
type options struct {
	cfgFile  string
	logLevel string
	project  string
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "nocl",
		Short: "nocl - memory orchestration for coding agents",
		Long: `nocl sits between a coding agent and its long-term memory. It routes
queries, caches tool results, assembles bounded prompt context and
compresses long conversations into durable summaries.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.nocl/nocl.json)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.project, "project", "p", "", "memory project (default from config, \"openclaw\")")

	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	root.AddCommand(
		newInitCmd(opts),
		newDecisionCmd(opts),
		newContextCmd(opts),
		newInsightCmd(opts),
		newFactCmd(opts),
		newCacheCmd(opts),
		newRecallCmd(opts),
		newTaskCmd(opts),
		newRouteCmd(),
		newBuildCmd(opts),
		newCallCmd(opts),
		newMessageCmd(opts),
		newPruneCmd(opts),
		newStatusCmd(opts),
	)

	return root
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
