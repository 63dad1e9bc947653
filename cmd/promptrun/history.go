package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"promptrun/cmd/promptrun/ui"
	"promptrun/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	var listTargets bool

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded runs, or the builds of one run",
		Long: `Reads the run history database (--history or history.path). Without
arguments it lists recent runs; with a run ID (or unique prefix) it lists that
run's builds. --targets prints that run's pairs in target-list format.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.History.Path == "" {
				return fmt.Errorf("no history database configured (use --history)")
			}

			hist, err := store.NewHistoryStore(cfg.InWorkspace(cfg.History.Path))
			if err != nil {
				return err
			}
			defer hist.Close()

			styles := ui.DefaultStyles()

			if len(args) == 0 {
				if listTargets {
					return fmt.Errorf("--targets needs a RUN_ID")
				}
				runs, err := hist.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				table := ui.NewTable("Runs", "Run", "Started", "Elapsed", "Targets", "Builds", "Not clean", "Variant", "State").
					AlignRight(2, 3, 4, 5)
				for _, r := range runs {
					table.AddRow(shortID(r.ID), r.StartedAt.Format(time.DateTime), elapsed(r),
						strconv.Itoa(r.Targets), strconv.Itoa(r.Invocations), strconv.Itoa(r.NotClean),
						r.Variant, runState(r))
				}
				fmt.Fprint(a.stdout, table.Render(styles))
				return nil
			}

			run, err := hist.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			// Printed in target-list format.
			if listTargets {
				list, err := hist.Targets(ctx, run.ID)
				if err != nil {
					return err
				}
				for _, p := range list {
					fmt.Fprintf(a.stdout, "%s %s\n", p.Function, p.Loop)
				}
				return nil
			}

			invs, err := hist.Invocations(ctx, run.ID)
			if err != nil {
				return err
			}
			title := fmt.Sprintf("Run %s  %s  %s", run.ID, run.Workspace, runState(*run))
			table := ui.NewTable(title, "#", "Function", "Loop", "Exit", "Duration", "Archive").AlignRight(0, 3, 4)
			for _, inv := range invs {
				table.AddRow(strconv.Itoa(inv.Seq), inv.Pair.Function, inv.Pair.Loop,
					styles.ExitStatus(inv.ExitCode, inv.Killed, inv.Error),
					inv.Duration.Round(time.Millisecond).String(), inv.ArchivePath)
			}
			fmt.Fprint(a.stdout, table.Render(styles))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&listTargets, "targets", false, "Print the run's targets as a target list")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func elapsed(r store.RunRecord) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func runState(r store.RunRecord) string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case r.FinishedAt.IsZero():
		return "incomplete"
	default:
		return "done"
	}
}
