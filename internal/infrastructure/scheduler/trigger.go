package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"TechNotesScanner/internal/domain"
)

var fieldParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// BuildSchedule converts a trigger into a cron schedule.
//
// Cron field triggers follow the usual "unset fields below the least significant set field
// take their minimum" rule, so {day_of_week: mon-fri, hour: 9} fires at 09:00:00 and not
// every second of that hour. Fields between set fields stay "*".
func BuildSchedule(t domain.Trigger) (cron.Schedule, error) {
	switch t.Kind {
	case domain.TriggerInterval:
		d := t.Interval()
		if d <= 0 {
			return nil, fmt.Errorf("interval trigger needs a positive duration")
		}
		return cron.Every(d), nil
	case domain.TriggerCron:
		if t.Expression != "" {
			sched, err := cron.ParseStandard(t.Expression)
			if err != nil {
				return nil, fmt.Errorf("parse cron expression %q: %w", t.Expression, err)
			}
			return sched, nil
		}
		spec, err := fieldSpec(t)
		if err != nil {
			return nil, err
		}
		sched, err := fieldParser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("parse cron fields %q: %w", spec, err)
		}
		return sched, nil
	case domain.TriggerDate:
		if t.RunAt.IsZero() {
			return nil, fmt.Errorf("date trigger needs run_at")
		}
		return onceSchedule{at: t.RunAt}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// fieldSpec renders "second minute hour dom month dow".
func fieldSpec(t domain.Trigger) (string, error) {
	// most significant first
	fields := []struct {
		value    string
		minimum  string
		position int
	}{
		{t.Month, "1", 4},
		{t.Day, "1", 3},
		{t.DayOfWeek, "*", 5},
		{t.Hour, "0", 2},
		{t.Minute, "0", 1},
		{t.Second, "0", 0},
	}

	last := -1
	for i, f := range fields {
		if strings.TrimSpace(f.value) != "" {
			last = i
		}
	}
	if last < 0 {
		return "", fmt.Errorf("cron trigger needs an expression or at least one field")
	}

	out := make([]string, 6)
	for i, f := range fields {
		value := strings.ReplaceAll(strings.TrimSpace(f.value), " ", "")
		switch {
		case value != "":
		case i > last:
			value = f.minimum
		default:
			value = "*"
		}
		out[f.position] = value
	}
	return strings.Join(out, " "), nil
}

// onceSchedule fires a single time.
type onceSchedule struct {
	at time.Time
}

func (o onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// missedRuns counts the slots between from and now, inclusive of from, up to limit.
func missedRuns(sched cron.Schedule, from, now time.Time, limit int) int {
	if from.IsZero() || from.After(now) {
		return 0
	}
	if _, ok := sched.(onceSchedule); ok {
		return 1
	}
	count := 0
	for t := from; !t.IsZero() && !t.After(now) && count < limit; t = sched.Next(t) {
		count++
	}
	return count
}
