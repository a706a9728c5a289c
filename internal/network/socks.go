// Package network holds the outbound networking helpers shared by the
// passive handlers and host address detection.
package network

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/proxy"

	"hostagent/internal/config"
)

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SOCKSDialer returns a SOCKS5 dialer for cfg, or nil when no proxy is set.
func SOCKSDialer(cfg config.SOCKSConfig) (proxy.Dialer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, nil
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer, err := proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", addr, err)
	}
	return dialer, nil
}

// ContextDialer is SOCKSDialer for clients that take a DialContext hook.
func ContextDialer(cfg config.SOCKSConfig) (DialContextFunc, error) {
	dialer, err := SOCKSDialer(cfg)
	if err != nil || dialer == nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}
