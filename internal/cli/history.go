package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zargo/pkg/sqlite"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently loaded and saved projects",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			history := sqlite.NewBackend()
			if err := history.Attach(settings.config); err != nil {
				return fmt.Errorf("open project history: %w", err)
			}
			defer history.Detach()

			recs, err := history.Recent(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.jsonMode {
				return writeJSON(out, recs)
			}
			for _, r := range recs {
				fmt.Fprintf(out, "%s  %-4s v%d %-7s %s\n",
					r.UpdatedAt.Local().Format(time.DateTime), r.Operation, r.PersistenceVersion, r.Layout, r.URI)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of projects to list (0 for all)")
	return cmd
}
