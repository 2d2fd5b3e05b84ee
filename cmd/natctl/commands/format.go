package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/gonat/internal/admin"
	"github.com/dantte-lp/gonat/internal/config"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatMappings renders a slice of mappings in the requested format.
func formatMappings(mappings []admin.MappingView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(mappings)
	case formatTable:
		return formatMappingsTable(mappings), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatConfig renders the daemon's effective configuration in the requested format.
func formatConfig(cfg *config.Config, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(cfg)
	case formatTable:
		return formatConfigTable(cfg), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatMappingsTable(mappings []admin.MappingView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROTO\tIN-IFACE\tOUT-IFACE\tINSIDE\tOUTSIDE\tIDLE")

	for _, m := range mappings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Protocol,
			m.InIface,
			m.OutIface,
			m.InsideSrc+" -> "+m.InsideDst,
			m.OutsideSrc+" -> "+m.OutsideDst,
			m.IdleFor,
		)
	}

	_ = w.Flush()

	return buf.String()
}

func formatConfigTable(cfg *config.Config) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Internal Interface:\t%s\n", cfg.NAT.Internal)
	fmt.Fprintf(w, "External Interface:\t%s\n", cfg.NAT.External)
	fmt.Fprintf(w, "Filter Method:\t%s\n", cfg.NAT.FilterMethod)
	fmt.Fprintf(w, "Map Method:\t%s\n", cfg.NAT.MapMethod)
	fmt.Fprintf(w, "Port Assignment:\t%s\n", cfg.NAT.PortAssign)
	fmt.Fprintf(w, "Port Parity:\t%t\n", cfg.NAT.PortParity)
	fmt.Fprintf(w, "Hairpin:\t%t\n", cfg.NAT.Hairpin)
	fmt.Fprintf(w, "Map Lifetime:\t%s\n", cfg.NAT.MapLifetime)
	fmt.Fprintf(w, "Table Max Entries:\t%d\n", cfg.Table.MaxEntries)
	fmt.Fprintf(w, "Table Sweep Interval:\t%s\n", cfg.Table.SweepInterval)
	fmt.Fprintf(w, "Queue Number:\t%d\n", cfg.Queue.Num)
	fmt.Fprintf(w, "Metrics Address:\t%s\n", cfg.Metrics.Addr)
	fmt.Fprintf(w, "Admin Address:\t%s\n", cfg.Admin.Addr)
	fmt.Fprintf(w, "Log Level:\t%s\n", cfg.Log.Level)

	_ = w.Flush()

	return buf.String()
}

// --- JSON formatter ---

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
