package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	var savePath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Prints the configuration a run would use: defaults, then the config file,
then PROMPTRUN_* variables, then flags. With --save it is written to a file
that can be passed back with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}

			if savePath != "" {
				if err := cfg.Save(savePath); err != nil {
					return err
				}
				a.log().Info("configuration saved", zap.String("path", savePath))
				fmt.Fprintf(a.stdout, "wrote %s\n", savePath)
				return nil
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&savePath, "save", "", "Write the effective configuration to this file")
	return cmd
}
