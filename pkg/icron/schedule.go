// Package icron wraps robfig/cron parsing with a seconds-first layout and
// answers "when did this last fire and when will it fire next".
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts six-field expressions (seconds first) and descriptors
// such as "@daily".
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(expr string) (cron.Schedule, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the activations surrounding refTime. Last stays
// zero when the schedule did not fire during the preceding year.
func GetTriggerInfo(expr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(refTime),
		Last:       lastBefore(schedule, refTime),
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	return info, nil
}

// lastBefore walks back in widening steps until an activation at or before
// refTime is found, then forward to the latest such activation.
func lastBefore(schedule cron.Schedule, refTime time.Time) time.Time {
	limit := refTime.AddDate(-1, 0, 0)
	for step := time.Minute; ; step *= 2 {
		from := refTime.Add(-step)
		if from.Before(limit) {
			from = limit
		}
		candidate := schedule.Next(from)
		if !candidate.After(refTime) {
			for {
				next := schedule.Next(candidate)
				if next.IsZero() || next.After(refTime) {
					return candidate
				}
				candidate = next
			}
		}
		if !from.After(limit) {
			return time.Time{}
		}
	}
}
