package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the daemon's effective configuration",
	}

	cmd.AddCommand(configShowCmd())

	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the daemon's effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}

			out, err := formatConfig(cfg, outputFormat)
			if err != nil {
				return fmt.Errorf("format config: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}
