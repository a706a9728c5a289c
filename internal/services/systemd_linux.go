//go:build linux

package services

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"

	"hostagent/internal/logger"
)

// SystemdProvider reads services from systemd over D-Bus and falls back to
// the systemctl listing when the bus cannot be reached.
type SystemdProvider struct {
	run     runner
	connect func(ctx context.Context) (unitLister, error)
}

// unitLister is the subset of *dbus.Conn the provider uses.
type unitLister interface {
	ListUnitsByPatternsContext(ctx context.Context, states []string, patterns []string) ([]dbus.UnitStatus, error)
	Close()
}

// NewSystemdProvider returns a provider talking to the system bus.
func NewSystemdProvider() *SystemdProvider {
	return &SystemdProvider{
		run: execRunner,
		connect: func(ctx context.Context) (unitLister, error) {
			return dbus.NewSystemConnectionContext(ctx)
		},
	}
}

func (p *SystemdProvider) Name() string { return "systemd" }

func (p *SystemdProvider) Enumerate(ctx context.Context) (map[string]Status, error) {
	log := logger.WithComponent("services")

	conn, err := p.connect(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("systemd bus unavailable, falling back to systemctl")
		return p.enumerateCLI(ctx)
	}
	defer conn.Close()

	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{"*" + serviceSuffix})
	if err != nil {
		log.Debug().Err(err).Msg("systemd unit listing failed, falling back to systemctl")
		return p.enumerateCLI(ctx)
	}

	services := make(map[string]Status, len(units))
	for _, u := range units {
		if !strings.HasSuffix(u.Name, serviceSuffix) {
			continue
		}
		services[strings.TrimSuffix(u.Name, serviceSuffix)] = unitStatus(u.ActiveState, u.SubState)
	}
	return services, nil
}

func (p *SystemdProvider) enumerateCLI(ctx context.Context) (map[string]Status, error) {
	out, err := runTool(ctx, p.run, p.Name(), false,
		"systemctl", "list-units", "--type=service", "--all", "--no-legend", "--plain")
	if err != nil {
		return nil, err
	}
	return parseSystemctl(out), nil
}
