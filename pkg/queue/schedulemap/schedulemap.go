// Package schedulemap computes the next fire time for a repeating job's
// schedule. Entries have no side effects, so ScheduleEngine can call them
// outside any lock held by the backing store. The built-in "every" and
// "cron" entries are pure functions of (lastFireTime, meta) when
// lastFireTime is non-zero; when it is 0 (never fired) they read the
// wall clock (time.Now) as the starting point.
package schedulemap

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextFunc computes the next fire time (ms epoch) given the last fire
// time (ms epoch, 0 if the job has never fired) and the schedule's
// opaque meta string. ok is false if the schedule has no further
// occurrences (e.g. an exhausted one-shot schedule).
type NextFunc func(lastFireTime int64, meta string) (next int64, ok bool)

// Map is a named registry of schedule kinds, looked up by the Type field
// stored on a job's Schedule.
type Map struct {
	entries map[string]NextFunc
}

// New builds a Map pre-populated with the "every" and "cron" entries.
// Callers may Register additional kinds before first use.
func New() *Map {
	m := &Map{entries: make(map[string]NextFunc)}
	m.Register("every", every)
	m.Register("cron", cronNext)
	return m
}

// Register adds or replaces a named schedule kind.
func (m *Map) Register(kind string, fn NextFunc) {
	m.entries[kind] = fn
}

// Next looks up kind and evaluates it. err is non-nil if kind is not
// registered.
func (m *Map) Next(kind string, lastFireTime int64, meta string) (next int64, ok bool, err error) {
	fn, found := m.entries[kind]
	if !found {
		return 0, false, fmt.Errorf("schedulemap: unknown schedule kind %q", kind)
	}
	next, ok = fn(lastFireTime, meta)
	return next, ok, nil
}

// every implements a fixed-interval schedule. meta is a duration string
// parseable by time.ParseDuration (e.g. "30s", "5m"). When lastFireTime
// is 0 the next fire time is the current wall-clock time plus interval.
// Otherwise it is lastFireTime+interval, even if that has already passed,
// no catch-up burst is fired for missed intervals — the distributor's
// PromoteDue will pick it up on its next sweep regardless of how far in
// the past it falls.
func every(lastFireTime int64, meta string) (int64, bool) {
	interval, err := time.ParseDuration(meta)
	if err != nil || interval <= 0 {
		return 0, false
	}
	if lastFireTime == 0 {
		return time.Now().Add(interval).UnixMilli(), true
	}
	return lastFireTime + interval.Milliseconds(), true
}

// cronNext implements a standard 5-field cron schedule (minute hour dom
// month dow). The next occurrence is computed after lastFireTime, or
// after the current wall-clock time when lastFireTime is 0.
func cronNext(lastFireTime int64, meta string) (int64, bool) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(meta)
	if err != nil {
		return 0, false
	}
	from := time.Now()
	if lastFireTime > 0 {
		from = time.UnixMilli(lastFireTime)
	}
	return sched.Next(from).UnixMilli(), true
}
