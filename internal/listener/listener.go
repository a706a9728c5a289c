// Package listener implements the listener worker: the HTTPS API over the
// resource tree.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/netutil"

	"hostagent/internal/config"
	"hostagent/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Flag is the cross-process error flag shared with the coordinator.
type Flag interface {
	Set()
}

// Options configures a Worker.
type Options struct {
	Config  config.ListenerConfig
	CertDir string // where the adhoc certificate is kept
	Tree    Tree
	Store   Store
	Flag    Flag
	Version string
}

// Worker serves the API until its context is done.
type Worker struct {
	cfg     config.ListenerConfig
	certDir string
	flag    Flag
	api     *api

	onListen func(net.Addr)
}

// New creates a listener worker.
func New(opts Options) *Worker {
	return &Worker{
		cfg:     opts.Config,
		certDir: opts.CertDir,
		flag:    opts.Flag,
		api: &api{
			tree:    opts.Tree,
			store:   opts.Store,
			token:   opts.Config.Token,
			version: opts.Version,
			started: time.Now(),
		},
	}
}

// Handler returns the API handler without TLS or connection limits.
func (w *Worker) Handler() http.Handler {
	return w.api.routes()
}

// Run serves until ctx is done. Startup and serve errors set the error
// flag and are returned.
func (w *Worker) Run(ctx context.Context) error {
	err := w.run(ctx)
	if err != nil && w.flag != nil {
		w.flag.Set()
	}
	return err
}

func (w *Worker) run(ctx context.Context) error {
	log := logger.WithComponent("listener")

	if w.cfg.DelayStart > 0 {
		log.Info().Dur("delay", w.cfg.DelayStart).Msg("Delaying listener start")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.DelayStart):
		}
	}

	tlsCfg, err := tlsConfig(w.cfg.Certificate, w.certDir, w.cfg.TLSMinVersion, w.cfg.Ciphers)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	address := w.cfg.Address
	if address == "" {
		address = config.DefaultListenerAddress
	}
	addr := net.JoinHostPort(address, strconv.Itoa(w.cfg.Port))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if w.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, w.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger("listener"),
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("max_connections", w.cfg.MaxConnections).
		Uint16("tls_min_version", tlsCfg.MinVersion).
		Msg("Listener started")
	if w.onListen != nil {
		w.onListen(ln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(tls.NewListener(ln, tlsCfg))
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listener stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Listener shutdown incomplete")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listener stopped: %w", err)
	}

	log.Info().Msg("Listener stopped")
	return nil
}
