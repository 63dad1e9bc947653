package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"promptrun/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch [LOG...]",
		Short: "Regenerate the target list whenever the log changes",
		Long: `Watches the compiler logs (default: --log) and rewrites the target list after
each burst of writes settles. Stops on Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			logs, err := deriveLogs(cfg, args)
			if err != nil {
				return err
			}
			closeLogs, err := a.openWorkspace(cfg)
			if err != nil {
				return err
			}
			defer closeLogs()

			w, err := watch.NewLogWatcher(watch.Options{
				TargetList: cfg.InWorkspace(cfg.TargetList),
				Logs:       logs,
				Debounce:   debounce,
				Initial:    initial,
				OnRegenerate: func(r watch.Regeneration) {
					if r.Err != nil {
						a.log().Warn("regeneration failed", zap.String("trigger", r.Trigger), zap.Error(r.Err))
						return
					}
					a.log().Info("target list regenerated", zap.String("trigger", r.Trigger), zap.Int("targets", r.Pairs))
					fmt.Fprintf(a.stdout, "%s  %d targets\n", r.At.Format("15:04:05"), r.Pairs)
				},
			})
			if err != nil {
				return err
			}

			a.log().Info("watching", zap.Strings("logs", logs))
			if err := w.Run(ctx); err != nil {
				return err
			}

			stats := w.GetStats()
			a.log().Info("watch stopped",
				zap.Int("events", stats.Events),
				zap.Int("regenerations", stats.Regenerations),
				zap.Int("errors", stats.Errors),
				zap.Int("last_targets", stats.LastPairs))
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before regenerating")
	cmd.Flags().BoolVar(&initial, "initial", true, "Regenerate once at startup")
	return cmd
}
