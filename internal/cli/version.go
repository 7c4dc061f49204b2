package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/zargo/pkg/types"
)

const modulePath = "github.com/mesh-intelligence/zargo"

// Version is the zargo release, set at build time with -ldflags.
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the zargo version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "zargo v%s\nmodule: %s\npersistence version: %d\n",
				Version, modulePath, types.PersistenceVersion)
			return nil
		},
	}
}
