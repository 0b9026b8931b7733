package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "karmachain",
	Short: "Karma scoring and atonement recommendation engine",
	Long: "karmachain scores life events along the four purusharthas, keeps a per-user token\n" +
		"ledger and debt graph, and recommends atonement plans with a learned policy.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/karma.yaml", "Path to YAML config")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.Version = version
}
