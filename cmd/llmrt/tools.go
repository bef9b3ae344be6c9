package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func toolsCmd(global *globalFlags) *cobra.Command {
	var withMCP bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List functions available to the model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), global, appOptions{connectMCP: withMCP})
			if err != nil {
				return err
			}
			defer a.close()

			defs := a.rt.Functions().AllTools()
			sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", true, "Include tools from configured MCP servers")
	return cmd
}
