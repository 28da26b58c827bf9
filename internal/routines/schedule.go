// Package routines implements the periodic scheduler that evaluates
// per-agent cron schedules in their own time zones and fires idempotent
// autonomous actions, some of which enqueue jobs.
package routines

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five fields: minute, hour, day-of-month,
// month, day-of-week.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a parsed five-field cron expression evaluated against local
// wall-clock minutes.
type Schedule struct {
	inner cron.Schedule
}

// ParseSchedule parses a five-field cron expression. Day-of-week 7 is
// accepted as Sunday alongside 0.
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}
	fields[4] = normalizeDow(fields[4])

	inner, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return &Schedule{inner: inner}, nil
}

// Matches reports whether the schedule fires in t's minute. t carries the
// routine's location; evaluation is against that local wall clock.
func (s *Schedule) Matches(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return s.inner.Next(minute.Add(-time.Second)).Equal(minute)
}

// normalizeDow rewrites day-of-week terms that use 7 for Sunday into the
// 0-based convention the parser accepts.
func normalizeDow(field string) string {
	terms := strings.Split(field, ",")
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		out = append(out, normalizeDowTerm(term))
	}
	return strings.Join(out, ",")
}

func normalizeDowTerm(term string) string {
	expr, step, hasStep := strings.Cut(term, "/")

	lo, hi, isRange := strings.Cut(expr, "-")
	if !isRange {
		if expr == "7" {
			expr = "0"
		}
		if hasStep {
			return expr + "/" + step
		}
		return expr
	}

	if lo == "7" && hi == "7" {
		if hasStep {
			return "0/" + step
		}
		return "0"
	}
	if lo == "7" {
		lo = "0"
	}
	if hi != "7" {
		if hasStep {
			return lo + "-" + hi + "/" + step
		}
		return lo + "-" + hi
	}

	// A range ending at 7 covers Sunday; split it into lo-6 plus Sunday
	// when the step lands on 7.
	loN, loErr := strconv.Atoi(lo)
	stepN := 1
	if hasStep {
		n, err := strconv.Atoi(step)
		if err != nil {
			return term
		}
		stepN = n
	}
	if loErr != nil || stepN <= 0 || loN > 7 {
		return term
	}

	base := lo + "-6"
	if hasStep {
		base += "/" + step
	}
	if (7-loN)%stepN == 0 {
		return base + ",0"
	}
	return base
}
