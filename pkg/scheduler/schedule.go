package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"sjscal/pkg/workflow"
)

// ParseSchedule parses a five-field cron expression. Schedules are always
// evaluated in UTC.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Upcoming returns the next n times def is due after from, merged across all
// of its schedule triggers.
func Upcoming(def *workflow.Definition, from time.Time, n int) ([]time.Time, error) {
	var schedules []cron.Schedule
	for _, spec := range def.CronSpecs() {
		s, err := ParseSchedule(spec)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	if len(schedules) == 0 || n <= 0 {
		return nil, nil
	}

	next := make([]time.Time, len(schedules))
	from = from.UTC()
	for i, s := range schedules {
		next[i] = s.Next(from)
	}

	out := make([]time.Time, 0, n)
	for len(out) < n {
		// A zero time means that schedule has no further fire times.
		first := -1
		for i := range next {
			if !next[i].IsZero() && (first < 0 || next[i].Before(next[first])) {
				first = i
			}
		}
		if first < 0 {
			break
		}
		t := next[first]
		if len(out) == 0 || !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
		next[first] = schedules[first].Next(t)
	}
	return out, nil
}
