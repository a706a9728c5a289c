package node

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// defaultTopProcesses is how many unnamed processes the processes node
// reports besides the requested ones.
const defaultTopProcesses = 10

// ProcessData describes one running process.
type ProcessData struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	Username      string  `json:"username,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float32 `json:"memory_percent"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CreateTime    int64   `json:"create_time"`
	Requested     bool    `json:"requested,omitempty"`
}

// nameMatcher matches process names the way the platform's own tools do:
// case-insensitively on Windows, exactly elsewhere.
type nameMatcher struct {
	names           map[string]struct{}
	caseInsensitive bool
}

func newNameMatcher(names []string, caseInsensitive bool) *nameMatcher {
	m := &nameMatcher{
		names:           make(map[string]struct{}, len(names)),
		caseInsensitive: caseInsensitive,
	}
	for _, name := range names {
		m.names[m.key(name)] = struct{}{}
	}
	return m
}

func (m *nameMatcher) key(name string) string {
	if m.caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}

func (m *nameMatcher) matches(name string) bool {
	_, ok := m.names[m.key(name)]
	return ok
}

// procSample is the cheap first-pass view of a process.
type procSample struct {
	proc      *process.Process
	name      string
	cpu       float64
	requested bool
}

// selectProcesses returns every requested sample followed by the top
// consumers among the rest, each group ordered by CPU descending. The rest
// fill up to topN slots minus the requested count.
func selectProcesses(samples []procSample, topN int) []procSample {
	var requested, others []procSample
	for _, s := range samples {
		if s.requested {
			requested = append(requested, s)
		} else {
			others = append(others, s)
		}
	}

	byCPU := func(list []procSample) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].cpu > list[j].cpu })
	}
	byCPU(requested)
	byCPU(others)

	slots := topN - len(requested)
	if slots < 0 {
		slots = 0
	}
	if len(others) > slots {
		others = others[:slots]
	}
	return append(requested, others...)
}

// collectProcesses lists processes in two passes: name and CPU for all of
// them, then the remaining details only for the selected ones.
func collectProcesses(ctx context.Context, q Query) (any, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	matcher := newNameMatcher(q.Names, runtime.GOOS == "windows")
	samples := make([]procSample, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			// exited meanwhile or not accessible
			continue
		}
		cpuPercent, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		samples = append(samples, procSample{
			proc:      p,
			name:      name,
			cpu:       cpuPercent,
			requested: matcher.matches(name),
		})
	}

	selected := selectProcesses(samples, defaultTopProcesses)
	out := make([]ProcessData, 0, len(selected))
	for _, s := range selected {
		data := ProcessData{
			PID:        s.proc.Pid,
			Name:       s.name,
			CPUPercent: s.cpu,
			Requested:  s.requested,
		}
		data.Username, _ = s.proc.UsernameWithContext(ctx)
		data.CreateTime, _ = s.proc.CreateTimeWithContext(ctx)
		data.MemoryPercent, _ = s.proc.MemoryPercentWithContext(ctx)
		if mi, err := s.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			data.RSSBytes = mi.RSS
		}
		out = append(out, data)
	}
	return out, nil
}
