package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// cronPattern matches cron expressions (5 or 6 fields)
var cronPattern = regexp.MustCompile(`^(\S+\s+){4,5}\S+$`)

// alignment maps a duration range to a clock-aligned cron pattern. A step
// is only accepted when it divides period evenly, so runs land on the same
// wall-clock marks every cycle.
type alignment struct {
	below   time.Duration
	unit    time.Duration
	period  int
	name    string
	pattern string
}

var alignments = []alignment{
	{below: time.Minute, unit: time.Second, period: 60, name: "second", pattern: "*/%d * * * * *"},
	{below: time.Hour, unit: time.Minute, period: 60, name: "minute", pattern: "*/%d * * * *"},
	{below: 25 * time.Hour, unit: time.Hour, period: 24, name: "hour", pattern: "0 */%d * * *"},
}

// isCronExpression reports whether s looks like a cron expression rather
// than a Go duration
func isCronExpression(s string) bool {
	return cronPattern.MatchString(s)
}

// durationToCron converts a duration to a clock-aligned cron expression:
//
//	"30s" -> "*/30 * * * * *"
//	"5m"  -> "*/5 * * * *"
//	"1h"  -> "0 */1 * * *"
func durationToCron(raw string) (string, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return "", fmt.Errorf("invalid duration format: %w", err)
	}
	if d <= 0 {
		return "", fmt.Errorf("interval must be positive (got %s)", raw)
	}

	for _, a := range alignments {
		if d >= a.below {
			continue
		}
		if d%a.unit != 0 {
			break
		}
		step := int(d / a.unit)
		if a.period%step != 0 {
			return "", fmt.Errorf("%s intervals must divide evenly into %d (got %s)", a.name, a.period, raw)
		}
		return fmt.Sprintf(a.pattern, step), nil
	}

	return "", fmt.Errorf("interval must be a whole number of seconds, minutes, or hours up to 24h (got %s)", raw)
}

// cronFor returns the cron expression driving interval and whether it
// carries a seconds field
func cronFor(interval string) (string, bool, error) {
	expr := interval
	if !isCronExpression(interval) {
		var err error
		if expr, err = durationToCron(interval); err != nil {
			return "", false, fmt.Errorf("invalid interval: %w", err)
		}
	}
	return expr, len(strings.Fields(expr)) == 6, nil
}

// ValidateScheduleInterval checks a duration or cron interval. Empty means
// one-shot mode and is valid.
func ValidateScheduleInterval(interval string) error {
	if interval == "" {
		return nil
	}
	if isCronExpression(interval) {
		if n := len(strings.Fields(interval)); n != 5 && n != 6 {
			return errors.New("cron expression must have 5 or 6 fields")
		}
		return nil
	}
	_, err := durationToCron(interval)
	return err
}

// DescribeSchedule renders interval for startup logs
func DescribeSchedule(interval string, tz *time.Location) string {
	if tz == nil {
		tz = time.UTC
	}
	if isCronExpression(interval) {
		return fmt.Sprintf("cron: %s (%s)", interval, tz)
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return fmt.Sprintf("invalid: %s", interval)
	}
	expr, err := durationToCron(interval)
	if err != nil {
		return fmt.Sprintf("duration: %s (non-aligned)", interval)
	}
	return fmt.Sprintf("every %s (aligned to clock, cron: %s, %s)", d, expr, tz)
}
