//go:build unix

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"hostagent/internal/coordinator"
	"hostagent/internal/daemon"
	"hostagent/internal/logger"
)

var (
	nonDaemon    bool
	listenerOnly bool
	passiveOnly  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent as a daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return reportStartupError(err)
		}

		return runStart(s)
	},
}

// runStart runs the daemon for s. A refusal because another instance is
// running only goes to stderr: that instance owns var/log.
func runStart(s *settings) error {
	d, err := newDaemon(s, nonDaemon)
	if err != nil {
		return reportStartupError(err)
	}

	logger.SetRole("daemon")
	coord := coordinator.New(coordinatorOptions(s, listenerOnly, passiveOnly))
	err = d.Start(context.Background(), coord)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, daemon.ErrAlreadyRunning), errors.Is(err, daemon.ErrWorkerFailed):
		return err
	}
	return reportStartupError(err)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := loadDaemon()
		if err != nil {
			return err
		}
		stopped, err := d.Stop()
		if err != nil {
			return err
		}
		if stopped {
			fmt.Println("Service stopped")
		} else {
			fmt.Println("Service is not running")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := loadDaemon()
		if err != nil {
			return err
		}
		st, err := d.Status()
		if err != nil {
			return err
		}
		fmt.Println(st.String())
		return nil
	},
}

func init() {
	startCmd.Flags().BoolVarP(&nonDaemon, "non-daemon", "n", false, "stay attached to the terminal")
	startCmd.Flags().BoolVar(&listenerOnly, "listener-only", false, "run only the API listener worker")
	startCmd.Flags().BoolVar(&passiveOnly, "passive-only", false, "run only the passive worker")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func newDaemon(s *settings, foreground bool) (*daemon.Daemon, error) {
	return daemon.New(daemon.Options{
		PidFile:    s.cfg.General.PidFile,
		User:       s.cfg.General.User,
		Group:      s.cfg.General.Group,
		Logging:    *s.logging,
		Foreground: foreground,
	})
}

func loadDaemon() (*daemon.Daemon, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return newDaemon(s, true)
}

func continueDetach() {
	daemon.ContinueDetach()
}
