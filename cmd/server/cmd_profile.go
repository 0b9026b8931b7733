package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
)

var profileAudit int

var profileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Print a user's karma profile from the configured store",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfile,
}

func init() {
	profileCmd.Flags().IntVar(&profileAudit, "audit", 0, "Also print the user's last N audit records")
}

func runProfile(cmd *cobra.Command, args []string) error {
	conf, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, conf.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	proc, err := engine.New(ctx, conf, st, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = proc.Shutdown(ctx) }()

	prof, err := proc.KarmaProfile(ctx, args[0])
	if err != nil {
		return err
	}
	out := map[string]any{"profile": prof}
	if profileAudit > 0 {
		recs, err := st.ListAudit(ctx, args[0], profileAudit)
		if err != nil {
			return err
		}
		out["audit"] = recs
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
