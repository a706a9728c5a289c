package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hostagent/internal/config"
	"hostagent/internal/coordinator"
	"hostagent/internal/handler"
	"hostagent/internal/listener"
	"hostagent/internal/logger"
	"hostagent/internal/node"
	"hostagent/internal/passive"
	"hostagent/internal/services"
	"hostagent/internal/sharedflag"
	"hostagent/internal/storage"
)

var (
	errorFlagPath string
	workerDebug   bool
)

var workerCmd = &cobra.Command{
	Use:       "worker <listener|passive>",
	Short:     "Run a single worker process (started by the coordinator)",
	Hidden:    true,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{coordinator.RoleListener, coordinator.RolePassive},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(args[0])
	},
}

func init() {
	workerCmd.Flags().StringVar(&errorFlagPath, "error-flag", "", "shared error flag file created by the coordinator")
	workerCmd.Flags().BoolVar(&workerDebug, "debug", false, "debug mode: fixed port and console logging")
	workerCmd.MarkFlagRequired("error-flag")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(role string) error {
	flag, err := sharedflag.Open(errorFlagPath)
	if err != nil {
		return err
	}
	defer flag.Close()

	s, err := loadSettings()
	if err != nil {
		flag.Set()
		return err
	}
	if workerDebug {
		applyDebug(s.cfg, s.logging)
	}

	logger.SetRole(role)
	if err := logger.Init(*s.logging); err != nil {
		flag.Set()
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	log := logger.WithComponent("worker")
	log.Info().
		Str("role", role).
		Str("version", version).
		Int("pid", os.Getpid()).
		Msg("Worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(s.cfg.Storage.Path)
	if err != nil {
		log.Error().Err(err).Str("path", s.cfg.Storage.Path).Msg("Check history disabled")
	} else {
		defer store.Close()
	}

	tree := node.DefaultTree(version, services.Detect())

	var cleanups []func()
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	if !workerDebug {
		if w := watchLogging(s.loggingPath); w != nil {
			cleanups = append(cleanups, func() { w.Stop() })
		}
	}

	switch role {
	case coordinator.RoleListener:
		err = runListener(ctx, s, tree, store, flag)
	case coordinator.RolePassive:
		err = runPassive(ctx, s, tree, store, flag, &cleanups)
	default:
		err = fmt.Errorf("unknown worker role %q", role)
	}

	if err != nil {
		flag.Set()
		log.Error().Err(err).Str("role", role).Msg("Worker stopped with error")
		return err
	}
	log.Info().Str("role", role).Msg("Worker stopped")
	return nil
}

func runListener(ctx context.Context, s *settings, tree *node.Tree, store *storage.Store, flag *sharedflag.Flag) error {
	opts := listener.Options{
		Config:  s.cfg.Listener,
		CertDir: s.certDir(),
		Tree:    tree,
		Flag:    flag,
		Version: version,
	}
	if store != nil {
		opts.Store = store
	}
	return listener.New(opts).Run(ctx)
}

func runPassive(ctx context.Context, s *settings, tree *node.Tree, store *storage.Store, flag *sharedflag.Flag, cleanups *[]func()) error {
	log := logger.WithComponent("worker")

	sched := passive.NewSchedule(config.GetHostname(s.cfg), s.cfg.Passive.Checks, tree)
	handlers := handler.Build(s.cfg.Passive.Handlers, s.cfg, handler.Deps{Source: sched})

	cw, err := config.NewConfigWatcher(s.configPath, s.overlayDir, func(cfg *config.Config) {
		sched.SetChecks(cfg.Passive.Checks)
		log.Info().Int("checks", sched.Len()).Msg("Passive checks reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := cw.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		*cleanups = append(*cleanups, func() { cw.Stop() })
	}

	opts := passive.Options{
		Config:        s.cfg.Passive,
		RetentionDays: s.cfg.Storage.RetentionDays,
		Schedule:      sched,
		Handlers:      handlers,
		Flag:          flag,
	}
	if store != nil {
		opts.Store = store
	}
	return passive.New(opts).Run(ctx)
}

// watchLogging re-initializes the logger when the logging file changes.
func watchLogging(path string) *config.FileWatcher {
	log := logger.WithComponent("worker")
	w, err := config.NewLoggingWatcher(path, func(lc *logger.Config) {
		config.ResolveLoggingPath(lc, installDir())
		if err := logger.Init(*lc); err != nil {
			log.Error().Err(err).Msg("Failed to apply logging configuration")
			return
		}
		log.Info().Str("level", lc.Level).Msg("Logging configuration reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create logging watcher")
		return nil
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start logging watcher")
		return nil
	}
	return w
}
