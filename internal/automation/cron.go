package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression (minute hour day-of-month
// month day-of-week). Supported syntax per field: `*`, single values,
// lists (`1,15`), ranges (`1-5`), and steps (`*/15`, `10-50/10`).
type Schedule struct {
	minutes  map[int]bool
	hours    map[int]bool
	days     map[int]bool
	months   map[int]bool
	weekdays map[int]bool
}

type fieldSpec struct {
	name     string
	min, max int
}

var cronFields = []fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

// ParseSchedule parses a cron expression. Day-of-week 7 is accepted as an
// alias for Sunday (0).
func ParseSchedule(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(fields))
	}

	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseField(f, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", expr, err)
		}
		sets[i] = set
	}
	return &Schedule{
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseField(field string, spec fieldSpec) (map[int]bool, error) {
	set := map[int]bool{}
	for _, part := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(part, "/")

		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%s: bad step %q", spec.name, stepPart)
			}
			step = n
		}

		lo, hi := spec.min, spec.max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			loStr, hiStr, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = parseValue(loStr, spec); err != nil {
				return nil, err
			}
			if hi, err = parseValue(hiStr, spec); err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("%s: inverted range %q", spec.name, rangePart)
			}
		default:
			v, err := parseValue(rangePart, spec)
			if err != nil {
				return nil, err
			}
			lo, hi = v, v
			if !hasStep {
				set[v] = true
				continue
			}
		}

		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	return set, nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: bad value %q", spec.name, s)
	}
	// 7 as Sunday.
	if spec.name == "day of week" && v == 7 {
		v = 0
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("%s: value %d out of range [%d,%d]", spec.name, v, spec.min, spec.max)
	}
	return v, nil
}

// Matches reports whether the schedule fires in the minute containing t.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minutes[t.Minute()] &&
		s.hours[t.Hour()] &&
		s.days[t.Day()] &&
		s.months[int(t.Month())] &&
		s.weekdays[int(t.Weekday())]
}
