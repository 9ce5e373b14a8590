// Package schedule handles the JSON envelope that describes when a
// scheduled workflow runs. A schedule is one of three kinds: a cron
// expression, a fixed interval, or a single shot at a point in time.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
	KindOnce     = "once"
)

type Schedule struct {
	Kind       string `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Schedule{}, fmt.Errorf("parse schedule: %w", err)
	}
	return s, nil
}

func (s Schedule) validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs <= 0 {
			return fmt.Errorf("interval_ms must be positive")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// next returns the next fire time after now, or nil when the schedule
// will never fire again (expired one-shots, invalid expressions).
func (s Schedule) next(now time.Time) *time.Time {
	switch s.Kind {
	case KindCron:
		tick, err := gronx.NextTick(s.CronExpr, false)
		if err != nil {
			return nil
		}
		return &tick
	case KindInterval:
		t := now.Add(time.Duration(s.IntervalMs) * time.Millisecond)
		return &t
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return nil
		}
		return &t
	default:
		return nil
	}
}

// NextRun computes the next fire time of a schedule envelope. It
// returns nil for schedules that are done or unparseable, which the
// scheduler treats as retirement.
func NextRun(raw string) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	return s.next(time.Now())
}

// Describe renders a schedule envelope for humans. Unparseable input
// comes back unchanged.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return describeCron(s.CronExpr)
	case KindInterval:
		return describeInterval(time.Duration(s.IntervalMs) * time.Millisecond)
	case KindOnce:
		return "Once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	default:
		return raw
	}
}

func describeCron(expr string) string {
	if strings.HasPrefix(expr, "@") {
		return expr
	}
	switch len(strings.Fields(expr)) {
	case 7:
		return "Every tick: " + expr
	case 6:
		return "Once: " + expr
	default:
		return expr
	}
}

func describeInterval(d time.Duration) string {
	switch {
	case d%time.Hour == 0 && d >= time.Hour:
		if h := int(d.Hours()); h != 1 {
			return fmt.Sprintf("Every %d hours", h)
		}
		return "Every hour"
	case d%time.Minute == 0:
		if m := int(d.Minutes()); m != 1 {
			return fmt.Sprintf("Every %d minutes", m)
		}
		return "Every minute"
	default:
		return fmt.Sprintf("Every %d seconds", int(d.Seconds()))
	}
}

// Normalize accepts either a schedule envelope or a bare cron
// expression and returns a validated envelope. Bare cron strings get
// wrapped; envelopes pass through untouched after validation.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err == nil && s.Kind != "" {
		if err := s.validate(); err != nil {
			return "", err
		}
		return raw, nil
	}

	if !gronx.New().IsValid(raw) {
		return "", fmt.Errorf("invalid schedule: not valid JSON or cron expression: %s", raw)
	}

	data, err := json.Marshal(Schedule{Kind: KindCron, CronExpr: raw})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
