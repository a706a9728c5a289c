package passive

import (
	"context"
	"net/url"
	"sync"
	"time"

	"hostagent/internal/check"
	"hostagent/internal/config"
	"hostagent/internal/handler"
	"hostagent/internal/node"
)

// DefaultInterval applies to checks configured without an Interval.
const DefaultInterval = 5 * time.Minute

// Checker evaluates the node at path.
type Checker interface {
	Check(ctx context.Context, path []string, q node.Query) check.Result
}

type entry struct {
	check config.PassiveCheck
	path  []string
	query node.Query
	raw   string
	next  time.Time
}

// Schedule tracks when every passive check is next due and holds the
// records evaluated on the latest tick. It is the handlers' Source.
type Schedule struct {
	hostname string
	checker  Checker

	mu      sync.Mutex
	entries []*entry
	batchTS time.Time
	batch   []handler.CheckRecord
}

// NewSchedule creates a schedule for checks. Every check is due on the
// first tick.
func NewSchedule(hostname string, checks []config.PassiveCheck, checker Checker) *Schedule {
	s := &Schedule{hostname: hostname, checker: checker}
	s.entries = buildEntries(checks)
	return s
}

func buildEntries(checks []config.PassiveCheck) []*entry {
	entries := make([]*entry, 0, len(checks))
	for _, c := range checks {
		if c.Interval <= 0 {
			c.Interval = DefaultInterval
		}
		params := url.Values(c.Params)
		entries = append(entries, &entry{
			check: c,
			path:  node.SplitPath(c.Path),
			query: node.QueryFromParams(params),
			raw: params.Encode(),
		})
	}
	return entries
}

// SetChecks replaces the scheduled checks. The new checks are due on the
// next tick.
func (s *Schedule) SetChecks(checks []config.PassiveCheck) {
	entries := buildEntries(checks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

// Len returns the number of scheduled checks.
func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evaluate runs every check due at ts and keeps the records as the batch
// for ts.
func (s *Schedule) Evaluate(ctx context.Context, ts time.Time) []handler.CheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []handler.CheckRecord
	for _, e := range s.entries {
		if ts.Before(e.next) {
			continue
		}
		res := s.checker.Check(ctx, e.path, e.query)
		e.next = ts.Add(e.check.Interval)

		host := e.check.Host
		if host == "" {
			host = s.hostname
		}
		recs = append(recs, handler.CheckRecord{
			Host:       host,
			Service:    e.check.Service,
			Path:       e.check.Path,
			Query:      e.raw,
			Returncode: res.Returncode,
			Stdout:     res.Stdout,
			Timestamp:  ts,
		})
	}

	s.batchTS = ts
	s.batch = recs
	return recs
}

// Results returns the records evaluated at ts, or nil if ts is not the
// latest evaluated tick.
func (s *Schedule) Results(ts time.Time) []handler.CheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.batchTS.Equal(ts) {
		return nil
	}
	return s.batch
}
