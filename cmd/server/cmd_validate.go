package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/karmachain/internal/purushartha"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the config, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, _, err := loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if _, err := purushartha.FromConfig(conf.Scoring); err != nil {
			return fmt.Errorf("scoring: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s OK: version=%s store=%s actions=%d features=%d pillars=%d\n",
			cfgPath, conf.Version, conf.Store.Driver,
			len(conf.Scoring.Actions), len(conf.Scoring.Features), len(conf.Recommender.Pillars))
		return nil
	},
}
