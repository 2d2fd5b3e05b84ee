package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gonat/internal/admin"
)

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Inspect active NAT mappings",
	}

	cmd.AddCommand(mappingListCmd())

	return cmd
}

// --- mapping list ---

func mappingListCmd() *cobra.Command {
	var protocol string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active NAT mappings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := getMappings()
			if err != nil {
				return err
			}

			mappings := filterByProtocol(resp.Mappings, protocol)

			out, err := formatMappings(mappings, outputFormat)
			if err != nil {
				return fmt.Errorf("format mappings: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	cmd.Flags().StringVar(&protocol, "protocol", "", "filter by protocol (UDP, TCP, ICMP)")

	return cmd
}

// filterByProtocol returns only the mappings matching protocol, or all of
// them when protocol is empty. The admin surface has no server-side filter,
// so this is done client-side.
func filterByProtocol(mappings []admin.MappingView, protocol string) []admin.MappingView {
	if protocol == "" {
		return mappings
	}

	want := strings.ToUpper(protocol)

	out := make([]admin.MappingView, 0, len(mappings))
	for _, m := range mappings {
		if strings.ToUpper(m.Protocol) == want {
			out = append(out, m)
		}
	}

	return out
}
