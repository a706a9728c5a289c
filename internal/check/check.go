// Package check turns resource state into monitoring-plugin style results.
package check

import (
	"fmt"
	"sort"
	"strings"

	"hostagent/internal/services"
)

// Return codes. Only OK and Critical are ever produced.
const (
	OK       = 0
	Critical = 2
)

// Result is the outcome of a check.
type Result struct {
	Returncode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
}

// Criticalf builds a CRITICAL result from a formatted message.
func Criticalf(format string, args ...any) Result {
	return Result{Returncode: Critical, Stdout: "CRITICAL: " + fmt.Sprintf(format, args...)}
}

type item struct {
	priority int
	info     string
}

// EvaluateServices checks every requested service against the target
// statuses. A missing service weighs 2, a service in the wrong state 1 and a
// matching service 0. Any non-zero weight makes the result CRITICAL. Details
// are listed heaviest first, in request order within a weight.
func EvaluateServices(names, targets []string, records map[string]services.Status) Result {
	targetSet := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}

	items := make([]item, 0, len(names))
	worst := 0
	for _, name := range names {
		it := item{}
		status, ok := records[name]
		switch {
		case !ok:
			it.priority = 2
			it.info = fmt.Sprintf("Service %s was not found", name)
		default:
			if _, want := targetSet[string(status)]; !want {
				it.priority = 1
			}
			it.info = fmt.Sprintf("Service %s is %s", name, status)
		}
		if it.priority > worst {
			worst = it.priority
		}
		items = append(items, it)
	}

	rc := OK
	if worst > 0 {
		rc = Critical
	}
	return Result{Returncode: rc, Stdout: render(rc, items)}
}

func render(rc int, items []item) string {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].priority > items[j].priority
	})

	infos := make([]string, len(items))
	for i, it := range items {
		infos[i] = it.info
	}

	prefix := "OK"
	if rc != OK {
		prefix = "CRITICAL"
	}
	return prefix + ": " + strings.Join(infos, ", ")
}
