// Package autoaccept evaluates provider-defined rule sets against incoming
// jobs and, when a rule matches, claims the job on the provider's behalf.
package autoaccept

import (
	"sort"
	"time"

	"github.com/example/job-dispatch/internal/models"
)

type Decision struct {
	Accept  bool
	Matched *models.AutoAcceptRule
}

// Engine is stateless; the clock is injected so time-window rules are
// testable.
type Engine struct {
	Now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{Now: time.Now}
}

// Decide orders enabled rules by descending priority and lets the
// highest-priority rule decide: accept when its conditions all hold, reject
// otherwise. Lower-priority rules never shadow a higher one's verdict, so a
// job a provider's strictest rule rejects stays visible for manual
// acceptance even if a looser, lower-priority rule would have taken it.
func (e *Engine) Decide(job models.Job, rules []models.AutoAcceptRule) Decision {
	enabled := make([]models.AutoAcceptRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		return Decision{}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority > enabled[j].Priority })

	if e.matches(job, enabled[0], e.Now()) {
		return Decision{Accept: true, Matched: &enabled[0]}
	}
	return Decision{}
}

func (e *Engine) matches(job models.Job, r models.AutoAcceptRule, now time.Time) bool {
	if r.MaxDistanceKm != nil && job.DistanceKm > *r.MaxDistanceKm {
		return false
	}
	if r.MinFare != nil && job.Fare < *r.MinFare {
		return false
	}
	if len(r.ServiceTypes) > 0 {
		found := false
		for _, t := range r.ServiceTypes {
			if t == job.ServiceType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.TimeStart != "" && r.TimeEnd != "" && !inWindow(now, r.TimeStart, r.TimeEnd) {
		return false
	}
	return true
}

// inWindow checks local wall-clock time against [start,end) in "HH:mm"; a
// window may wrap midnight (e.g. 22:00-06:00).
func inWindow(now time.Time, start, end string) bool {
	s, okS := parseMinutes(start)
	e, okE := parseMinutes(end)
	if !okS || !okE {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if s <= e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

func parseMinutes(v string) (int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
