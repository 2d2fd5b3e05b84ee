package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Trigger an immediate eviction sweep of idle mappings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := postSweep()
			if err != nil {
				return err
			}

			fmt.Printf("Evicted %d mapping(s).\n", resp.Evicted)

			return nil
		},
	}
}
