package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseEpoch reads the feed header. Two positional layouts are accepted, both
// in UTC:
//
//	YYYY DDD HH:MM:SS        year, day of year, clock
//	YYYY MM DD HH:MM:SS      year, month (name or number), day of month, clock
func parseEpoch(header string) (time.Time, error) {
	tokens := strings.Fields(header)

	switch len(tokens) {
	case 3:
		year, err := parseYear(tokens[0])
		if err != nil {
			return time.Time{}, err
		}
		doy, err := strconv.Atoi(tokens[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("day of year %q: %w", tokens[1], err)
		}
		daysInYear := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay()
		if doy < 1 || doy > daysInYear {
			return time.Time{}, fmt.Errorf("day of year %d out of range 1-%d", doy, daysInYear)
		}
		clock, err := parseClock(tokens[2])
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, doy-1).
			Add(clock), nil

	case 4:
		year, err := parseYear(tokens[0])
		if err != nil {
			return time.Time{}, err
		}
		month, err := parseMonth(tokens[1])
		if err != nil {
			return time.Time{}, err
		}
		day, err := strconv.Atoi(tokens[2])
		if err != nil {
			return time.Time{}, fmt.Errorf("day %q: %w", tokens[2], err)
		}
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if date.Day() != day || date.Month() != month {
			return time.Time{}, fmt.Errorf("day %d out of range for %s %d", day, month, year)
		}
		clock, err := parseClock(tokens[3])
		if err != nil {
			return time.Time{}, err
		}
		return date.Add(clock), nil

	default:
		return time.Time{}, fmt.Errorf("expected 3 or 4 tokens, got %d", len(tokens))
	}
}

func parseYear(tok string) (int, error) {
	year, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("year %q: %w", tok, err)
	}
	if year < 1957 || year > 9999 {
		return 0, fmt.Errorf("year %d out of range", year)
	}
	return year, nil
}

func parseMonth(tok string) (time.Month, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		if n < 1 || n > 12 {
			return 0, fmt.Errorf("month %d out of range", n)
		}
		return time.Month(n), nil
	}
	for _, layout := range []string{"Jan", "January"} {
		if t, err := time.Parse(layout, tok); err == nil {
			return t.Month(), nil
		}
	}
	return 0, fmt.Errorf("unknown month %q", tok)
}

// parseClock returns the offset from midnight. Fractional seconds are accepted.
func parseClock(tok string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", tok)
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", tok, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()), nil
}
