package cli

import (
	"context"

	"github.com/harun/nocl/pkg/memory"
	"github.com/spf13/cobra"
)

type statusReport struct {
	Version   string              `json:"version"`
	Project   string              `json:"project"`
	Backend   string              `json:"backend"`
	Available bool                `json:"available"`
	Total     int                 `json:"total"`
	ByType    map[memory.Type]int `json:"by_type"`
	Path      string              `json:"path,omitempty"`
	Sessions  string              `json:"sessions_dir"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show memory backend statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				st, err := rt.layer.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), statusReport{
					Version:   GetVersion(),
					Project:   st.Project,
					Backend:   st.Backend,
					Available: st.Available,
					Total:     st.Total,
					ByType:    st.ByType,
					Path:      st.Path,
					Sessions:  rt.cfg.SessionsDir(),
				})
			})
		},
	}
}
