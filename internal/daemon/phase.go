//go:build unix

package daemon

// Phase is a step of the daemon lifecycle. Phases are entered strictly in
// declaration order.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseCheckedPid
	PhaseDirsPrepared
	PhaseLoggingStarted
	PhaseRootSetupDone
	PhasePrivilegeDropped
	PhasePidfileWritable
	PhaseUserSetupDone
	PhaseDaemonized
	PhasePidWritten
	PhaseRunning
	PhaseStopping
	PhasePidRemoved
	PhaseStopped
)

var phaseNames = [...]string{
	"not-started",
	"checked-pid",
	"dirs-prepared",
	"logging-started",
	"root-setup-done",
	"privilege-dropped",
	"pidfile-writable-verified",
	"user-setup-done",
	"daemonized",
	"pid-written",
	"running",
	"stopping",
	"pid-removed",
	"stopped",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
