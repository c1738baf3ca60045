package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/goodtune/ktimer/internal/config"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

var errNoMode = errors.New("a mode is required: tick, service or monitor")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ktimer",
	Short: "ktimer - per-user daily time budgets",
	Long: `ktimer tracks how many minutes each logged-in user spends on this machine
per day and launches a policy command, such as a forced logout, once a user's
daily allowance is used up.

Run one of the modes:
  tick      run a single accounting cycle and exit
  service   run accounting cycles on a timer until stopped
  monitor   watch your own remaining time and warn before it runs out`,
	Version: version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errNoMode
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
