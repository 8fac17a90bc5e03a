package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const flagHome = "home"

// Set at build time with -ldflags "-X main.Version=... -X main.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".snzup")
	}
	return ".snzup"
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "snzupd",
		Short:         "Subscription challenge relayer daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String(flagHome, defaultHome(), "directory holding config/snzup_config.json")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
