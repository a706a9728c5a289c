// Package main is the entry point for the hostagent application.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configPath  string
	overlayDir  string
	loggingPath string
)

var rootCmd = &cobra.Command{
	Use:           "hostagent",
	Short:         "Host monitoring agent",
	Long:          `hostagent exposes host state through an HTTPS API and pushes scheduled checks to remote systems.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hostagent %s (built %s)\n", version, buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "etc/hostagent.json", "main configuration file, relative to the install directory")
	rootCmd.PersistentFlags().StringVar(&overlayDir, "config-dir", "etc/hostagent.d", "directory of *.json files merged over the main configuration")
	rootCmd.PersistentFlags().StringVar(&loggingPath, "logging", "etc/Logging.json", "logging configuration file")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Must run before anything else: the intermediate detach stage exits here.
	continueDetach()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
