package services

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"reflect"
	"testing"
)

func fakeRunner(out string, err error) runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(out), err
	}
}

// --- Filter ---

func TestFilter_NoCriteriaReturnsAll(t *testing.T) {
	all := map[string]Status{"sshd": StatusRunning, "cron": StatusStopped}
	got := Filter(all, nil, nil)
	if !reflect.DeepEqual(got, all) {
		t.Errorf("expected unchanged map, got %v", got)
	}
}

func TestFilter_Union(t *testing.T) {
	all := map[string]Status{
		"sshd":  StatusRunning,
		"cron":  StatusStopped,
		"nginx": StatusRunning,
		"cups":  StatusStopped,
	}

	tests := []struct {
		name     string
		names    []string
		statuses []string
		want     map[string]Status
	}{
		{
			name:  "names only",
			names: []string{"cron", "missing"},
			want:  map[string]Status{"cron": StatusStopped},
		},
		{
			name:     "statuses only",
			statuses: []string{"running"},
			want:     map[string]Status{"sshd": StatusRunning, "nginx": StatusRunning},
		},
		{
			name:     "disjoint sets are joined",
			names:    []string{"cron"},
			statuses: []string{"running"},
			want:     map[string]Status{"cron": StatusStopped, "sshd": StatusRunning, "nginx": StatusRunning},
		},
		{
			name:     "overlapping sets",
			names:    []string{"sshd"},
			statuses: []string{"running"},
			want:     map[string]Status{"sshd": StatusRunning, "nginx": StatusRunning},
		},
		{
			name:     "nothing matches",
			names:    []string{"nope"},
			statuses: []string{"paused"},
			want:     map[string]Status{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Filter(all, tt.names, tt.statuses)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Filter(%v, %v) = %v, want %v", tt.names, tt.statuses, got, tt.want)
			}
		})
	}
}

// --- sc ---

const scOutput = `
SERVICE_NAME: AudioSrv
DISPLAY_NAME: Windows Audio
        TYPE               : 20  WIN32_SHARE_PROCESS
        STATE              : 4  RUNNING
                                (STOPPABLE, NOT_PAUSABLE, IGNORES_SHUTDOWN)
        WIN32_EXIT_CODE    : 0  (0x0)

SERVICE_NAME: BITS
DISPLAY_NAME: Background Intelligent Transfer Service
        TYPE               : 20  WIN32_SHARE_PROCESS
        STATE              : 1  STOPPED
        WIN32_EXIT_CODE    : 0  (0x0)
`

func TestParseSC(t *testing.T) {
	got := parseSC([]byte(scOutput))
	want := map[string]Status{"AudioSrv": StatusRunning, "BITS": StatusStopped}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseSC = %v, want %v", got, want)
	}
}

func TestParseSC_StateWithoutName(t *testing.T) {
	got := parseSC([]byte("STATE : 4 RUNNING\n"))
	if len(got) != 0 {
		t.Errorf("expected no services, got %v", got)
	}
}

// --- launchctl ---

func TestParseLaunchctl(t *testing.T) {
	out := "PID\tStatus\tLabel\n" +
		"-\t0\tcom.apple.stopped\n" +
		"312\t-\tcom.apple.running\n" +
		"401\t78\tcom.apple.crashed\n" +
		"garbage line\n"

	got := parseLaunchctl([]byte(out))
	want := map[string]Status{
		"com.apple.stopped": StatusStopped,
		"com.apple.running": StatusRunning,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseLaunchctl = %v, want %v", got, want)
	}
}

func TestParseLaunchctl_HeaderOnly(t *testing.T) {
	if got := parseLaunchctl([]byte("PID\tStatus\tLabel\n")); len(got) != 0 {
		t.Errorf("expected no services, got %v", got)
	}
}

// --- initd ---

func TestParseInitd_Bracketed(t *testing.T) {
	out := " [ + ]  cron\n [ - ]  cups\n [ ? ]  hwclock.sh\n"
	got := parseInitd([]byte(out))
	want := map[string]Status{
		"cron":       StatusRunning,
		"cups":       StatusStopped,
		"hwclock.sh": StatusStopped,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseInitd = %v, want %v", got, want)
	}
}

func TestParseInitd_Sentences(t *testing.T) {
	out := "sshd (pid  1234) is running...\n" +
		"crond is stopped\n" +
		"netconsole module not loaded\n" +
		"iptables: Firewall is not running.\n" +
		"notifier is running\n" +
		"Usage: something\n"

	got := parseInitd([]byte(out))
	want := map[string]Status{
		"sshd":       StatusRunning,
		"crond":      StatusStopped,
		"netconsole": StatusStopped,
		"iptables":   StatusStopped,
		"notifier":   StatusRunning,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseInitd = %v, want %v", got, want)
	}
}

func TestParseInitd_ColonStatus(t *testing.T) {
	out := "Checking for service cron: running\n" +
		"Checking for service sshd: unused\n" +
		"Checking for service postfix: dead\n" +
		"Checking for rpcbind: not running\n" +
		"auditd: Running\n" +
		"iptables: Firewall is not running.\n" +
		"Usage: something\n"

	got := parseInitd([]byte(out))
	want := map[string]Status{
		"cron":     StatusRunning,
		"sshd":     StatusStopped,
		"postfix":  StatusStopped,
		"rpcbind":  StatusStopped,
		"auditd":   StatusRunning,
		"iptables": StatusStopped,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseInitd = %v, want %v", got, want)
	}
}

func TestParseInitd_OneRecordPerService(t *testing.T) {
	out := " [ + ]  a\n [ + ]  b\n [ - ]  c\n"
	if got := parseInitd([]byte(out)); len(got) != 3 {
		t.Errorf("expected 3 records, got %d: %v", len(got), got)
	}
}

func TestInitdProvider_ToleratesExitStatus(t *testing.T) {
	exitErr := &exec.ExitError{}
	p := &InitdProvider{run: fakeRunner(" [ - ]  cups\n", exitErr)}

	got, err := p.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if got["cups"] != StatusStopped {
		t.Errorf("expected cups stopped, got %v", got)
	}
}

// --- systemctl ---

func TestParseSystemctl(t *testing.T) {
	out := "cron.service      loaded active   running Regular background program processing daemon\n" +
		"ssh.service       loaded active   exited  OpenBSD Secure Shell server\n" +
		"● nginx.service   loaded failed   failed  A high performance web server\n" +
		"dbus.socket       loaded active   running D-Bus System Message Bus Socket\n"

	got := parseSystemctl([]byte(out))
	want := map[string]Status{
		"cron":  StatusRunning,
		"ssh":   StatusStopped,
		"nginx": StatusStopped,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseSystemctl = %v, want %v", got, want)
	}
}

func TestUnitStatus(t *testing.T) {
	tests := []struct {
		active, sub string
		want        Status
	}{
		{"active", "running", StatusRunning},
		{"active", "exited", StatusStopped},
		{"inactive", "dead", StatusStopped},
		{"activating", "running", StatusStopped},
		{"failed", "failed", StatusStopped},
	}
	for _, tt := range tests {
		if got := unitStatus(tt.active, tt.sub); got != tt.want {
			t.Errorf("unitStatus(%q, %q) = %s, want %s", tt.active, tt.sub, got, tt.want)
		}
	}
}

// --- tool failures ---

func TestEnumerate_MissingToolIsEmpty(t *testing.T) {
	notFound := &exec.Error{Name: "launchctl", Err: exec.ErrNotFound}
	p := &LaunchctlProvider{run: fakeRunner("", notFound)}

	got, err := p.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("expected no error for missing tool, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestEnumerate_FailureIsProviderError(t *testing.T) {
	boom := fmt.Errorf("access denied")
	p := &SCProvider{run: fakeRunner("", boom)}

	_, err := p.Enumerate(context.Background())
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderError, got %T %v", err, err)
	}
	if perr.Provider != "sc" {
		t.Errorf("expected provider sc, got %q", perr.Provider)
	}
	if !errors.Is(err, boom) {
		t.Error("ProviderError should unwrap to the underlying error")
	}
}

func TestEnumerate_FreshMapEachCall(t *testing.T) {
	p := &LaunchctlProvider{run: fakeRunner("PID\tStatus\tLabel\n1\t-\tjob\n", nil)}

	first, _ := p.Enumerate(context.Background())
	first["injected"] = StatusRunning

	second, _ := p.Enumerate(context.Background())
	if _, ok := second["injected"]; ok {
		t.Error("enumerations must not share state")
	}
}

func TestDetect_Once(t *testing.T) {
	if Detect() != Detect() {
		t.Error("Detect should return the same provider on every call")
	}
}
