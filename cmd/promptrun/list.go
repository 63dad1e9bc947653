package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"promptrun/cmd/promptrun/ui"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the target list without building",
		Long:  `Resolves and parses the target list exactly as a run would, then prints it.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLogs, err := a.openWorkspace(cfg)
			if err != nil {
				return err
			}
			defer closeLogs()

			list, err := a.resolveTargets(ctx, cfg)
			if err != nil {
				return err
			}

			table := ui.NewTable(fmt.Sprintf("%d targets in %s", len(list), cfg.InWorkspace(cfg.TargetList)),
				"#", "Function", "Loop").AlignRight(0)
			for i, p := range list {
				table.AddRow(strconv.Itoa(i+1), p.Function, p.Loop)
			}
			fmt.Fprint(a.stdout, table.Render(ui.DefaultStyles()))
			return nil
		},
	}
}
