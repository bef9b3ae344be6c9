package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/llmrt/llm"
	"github.com/aschepis/backscratcher/llmrt/llm/ollama"
)

func providersCmd(global *globalFlags) *cobra.Command {
	var (
		test    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their models",
		Long: `List every provider with its readiness, capabilities and known models.

With --test, a minimal request is sent to each ready provider to verify the
connection and credentials.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), global, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			registry := a.rt.Providers()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tACTIVE\tREADY\tSTREAM\tFUNCTIONS\tCONTEXT\tMODELS")
			for _, name := range registry.Names() {
				p, err := registry.Get(name)
				if err != nil {
					return err
				}
				caps := p.Capabilities()
				ids := lo.Map(p.Models(), func(m llm.ModelInfo, _ int) string { return m.ID })
				if op, ok := p.(*ollama.Provider); ok && test {
					if local, err := op.ListLocalModels(cmd.Context()); err == nil {
						ids = lo.Uniq(append(ids, local...))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%v\n",
					name,
					yesNo(name == registry.ActiveName()),
					yesNo(p.IsReady()),
					yesNo(caps.Streaming),
					yesNo(caps.FunctionCalling),
					caps.ContextWindow,
					ids,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !test {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout())
			for _, name := range registry.Names() {
				p, err := a.rt.Provider(name)
				if err != nil {
					return err
				}
				if !p.IsReady() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (not configured)\n", name)
					continue
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				err = p.TestConnection(ctx)
				cancel()
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED: %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&test, "test", false, "Send a test request to each ready provider")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for each connection test")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
