// Package schedule runs periodic backups and retention pruning from a
// persisted cron-style configuration.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"acore-backup/internal/errors"
)

type fieldSpec struct {
	name     string
	min, max int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

// Expression is a parsed five-field cron expression. Supported forms per
// field are `*`, `n`, `a-b`, `*/n` and comma lists of `n` and `a-b`.
// Expressions are evaluated in UTC.
type Expression struct {
	source string
	fields [5][]bool
}

// ParseCron parses and bounds-checks a cron expression
func ParseCron(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, errors.NewInputError(fmt.Sprintf("cron expression %q must have 5 fields, got %d", expr, len(parts)))
	}

	e := &Expression{source: strings.Join(parts, " ")}
	for i, part := range parts {
		set, err := parseField(part, fieldSpecs[i])
		if err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
		}
		e.fields[i] = set
	}
	return e, nil
}

func parseField(field string, bounds fieldSpec) ([]bool, error) {
	set := make([]bool, bounds.max+1)

	if field == "*" {
		for v := bounds.min; v <= bounds.max; v++ {
			set[v] = true
		}
		return set, nil
	}

	if stepText, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(stepText)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("%s: invalid step %q", bounds.name, stepText)
		}
		for v := bounds.min; v <= bounds.max; v++ {
			set[v] = v%step == 0
		}
		return set, nil
	}

	for _, part := range strings.Split(field, ",") {
		lo, hi, err := parseRange(part, bounds)
		if err != nil {
			return nil, err
		}
		for v := lo; v <= hi; v++ {
			set[v] = true
		}
	}
	return set, nil
}

func parseRange(part string, bounds fieldSpec) (int, int, error) {
	loText, hiText, isRange := strings.Cut(part, "-")
	lo, err := parseValue(loText, bounds)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := parseValue(hiText, bounds)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%s: range %q is reversed", bounds.name, part)
	}
	return lo, hi, nil
}

func parseValue(text string, bounds fieldSpec) (int, error) {
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", bounds.name, text)
	}
	if v < bounds.min || v > bounds.max {
		return 0, fmt.Errorf("%s: %d out of range %d-%d", bounds.name, v, bounds.min, bounds.max)
	}
	return v, nil
}

// Matches reports whether t (in UTC) satisfies every field. Only the first
// second of a minute can match.
func (e *Expression) Matches(t time.Time) bool {
	t = t.UTC()
	if t.Second() != 0 {
		return false
	}
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), int(t.Weekday())}
	for i, v := range values {
		if !e.fields[i][v] {
			return false
		}
	}
	return true
}

// Next returns the first matching minute strictly after t, searching up to
// one year ahead. The zero time means nothing matches in that window.
func (e *Expression) Next(t time.Time) time.Time {
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)
	for ; t.Before(limit); t = t.Add(time.Minute) {
		if e.Matches(t) {
			return t
		}
	}
	return time.Time{}
}

// String returns the normalized expression
func (e *Expression) String() string {
	return e.source
}
