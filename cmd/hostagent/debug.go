package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hostagent/internal/config"
	"hostagent/internal/coordinator"
	"hostagent/internal/logger"
	"hostagent/internal/service"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Run both workers in the foreground with the API on the debug port",
	Long: fmt.Sprintf(`Runs the listener and passive workers attached to the terminal with debug
logging on the console. The API listens on port %d. Press Enter or send
SIGINT to stop.`, config.DebugPort),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		applyDebug(s.cfg, s.logging)

		logger.SetRole("supervisor")
		if err := logger.Init(*s.logging); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Close()

		fmt.Fprintf(os.Stderr, "hostagent %s debug mode on port %d, press Enter to stop\n", version, config.DebugPort)

		coord := coordinator.New(coordinatorOptions(s, false, false, "--debug"))
		svc := service.NewService(func(ctx context.Context) error {
			return supervise(ctx, coord)
		}, service.StopOnEnter(os.Stdin))
		return svc.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)
}
