//go:build windows

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"hostagent/internal/coordinator"
	"hostagent/internal/logger"
	"hostagent/internal/service"
)

var (
	listenerOnly bool
	passiveOnly  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the agent, as a Windows service when started by the service manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return reportStartupError(err)
		}
		logger.SetRole("supervisor")
		if err := logger.Init(*s.logging); err != nil {
			return reportStartupError(fmt.Errorf("failed to initialize logger: %w", err))
		}
		defer logger.Close()
		service.ClearStartupErrorFile(startupErrorDir())

		coord := coordinator.New(coordinatorOptions(s, listenerOnly, passiveOnly))
		svc := service.NewService(func(ctx context.Context) error {
			return supervise(ctx, coord)
		})
		return svc.Run(context.Background())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the agent",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Use the service manager to stop %s (sc stop %s)\n", service.Name, service.Name)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the agent is running",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Use the service manager to query %s (sc query %s)\n", service.Name, service.Name)
	},
}

func init() {
	startCmd.Flags().BoolVar(&listenerOnly, "listener-only", false, "run only the API listener worker")
	startCmd.Flags().BoolVar(&passiveOnly, "passive-only", false, "run only the passive worker")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func continueDetach() {}
