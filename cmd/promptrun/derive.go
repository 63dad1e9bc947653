package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"promptrun/internal/config"
	"promptrun/internal/targets"
)

func newDeriveCmd(a *app) *cobra.Command {
	var toStdout bool

	cmd := &cobra.Command{
		Use:   "derive [LOG...]",
		Short: "Regenerate the target list from compiler logs",
		Long: `Collects every "PROMPT TARGETS: " line from the given logs (default: --log)
and writes their payloads to the target list, overwriting it. Logs are read in
argument order and their markers concatenated.`,
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

			if toStdout {
				payloads, err := targets.ExtractAll(ctx, logs)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(targets.Render(payloads))
				return err
			}

			closeLogs, err := a.openWorkspace(cfg)
			if err != nil {
				return err
			}
			defer closeLogs()

			path := cfg.InWorkspace(cfg.TargetList)
			n, err := targets.Derive(ctx, path, logs...)
			if err != nil {
				return err
			}
			a.log().Info("target list regenerated", zap.String("path", path), zap.Int("targets", n), zap.Strings("logs", logs))
			fmt.Fprintf(a.stdout, "wrote %d targets to %s\n", n, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "Print the derived list instead of writing it")
	return cmd
}

// deriveLogs returns the workspace-resolved logs named by args, or the configured log.
func deriveLogs(cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		if !cfg.LogAware() {
			return nil, fmt.Errorf("no log given: pass LOG arguments or --log")
		}
		args = []string{cfg.Log}
	}
	logs := make([]string, len(args))
	for i, l := range args {
		logs[i] = cfg.InWorkspace(l)
	}
	return logs, nil
}
