package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	transportpkg "github.com/drblury/cmdflow/internal/runtime/transport"
)

func newTransportsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transports",
		Short: "List the registered transports and what they support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACK\tNACK\tORDERING\tSHARING\tAT-LEAST-ONCE")
			for _, name := range transportpkg.Names() {
				caps, ok := transportpkg.CapabilitiesOf(name)
				if !ok {
					fmt.Fprintf(w, "%s\t?\t?\t?\t?\t?\n", name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name,
					yesNo(caps.SupportsAck), yesNo(caps.SupportsNack), yesNo(caps.SupportsOrdering),
					yesNo(caps.SupportsSharing), yesNo(caps.SupportsReliableDelivery()))
			}
			return w.Flush()
		},
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
