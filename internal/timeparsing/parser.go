// Package timeparsing provides layered parsing for the --since style flags.
//
// Parsing is tried in order:
//  1. Compact duration (-6h, -1d, 2w)
//  2. Natural language (yesterday, last monday)
//  3. Absolute timestamp (RFC3339, date-only)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches compact duration patterns: [+-]?(\d+)([hdwmy])
// Examples: -6h, -1d, 2w, 3m, 1y
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// Parse resolves a user-supplied time expression against now. Layered:
// compact duration first, then natural language, then absolute formats.
func Parse(s string, now time.Time) (time.Time, error) {
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	if t, err := ParseAbsolute(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time expression: %q", s)
}

// ParseCompactDuration parses compact duration syntax and returns the
// resulting time.
//
// Format: [+-]?(\d+)([hdwmy])
//
// Units:
//   - h = hours
//   - d = days
//   - w = weeks
//   - m = months
//   - y = years
//
// Examples:
//   - "-6h" -> now - 6 hours
//   - "-1d" -> now - 1 day
//   - "2w"  -> now + 2 weeks (no sign = positive)
//
// Returns error if input doesn't match the compact duration pattern.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	sign := matches[1]
	amountStr := matches[2]
	unit := matches[3]

	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", amountStr)
	}
	if sign == "-" {
		amount = -amount
	}

	return applyDuration(now, amount, unit), nil
}

// applyDuration applies the given amount and unit to the base time.
func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		return base
	}
}

// IsCompactDuration returns true if the string matches compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// absoluteLayouts are tried in order by ParseAbsolute.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseAbsolute parses an absolute timestamp. Layouts without a zone are
// interpreted in local time, matching what a user typing a date expects.
func ParseAbsolute(s string) (time.Time, error) {
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}
