package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// parseRange turns a date/expiry term into epoch bounds. Supported forms:
//
//	>duration        from = now - duration
//	<duration        to   = now - duration
//	[YYYY][/MM][/DD] [HH][:MM][:SS]
//
// An absolute value selects the window it names at its precision:
// "2021/03" covers the whole month. minOffset is the client timezone
// offset in minutes as reported by the browser (minutes behind UTC).
func parseRange(value string, minOffset int) (*rangeBound, error) {
	now := time.Now().Unix()
	switch {
	case strings.HasPrefix(value, ">"):
		d, err := parseHumanDuration(value[1:])
		if err != nil {
			return nil, err
		}
		return &rangeBound{from: now - int64(d.Seconds())}, nil
	case strings.HasPrefix(value, "<"):
		d, err := parseHumanDuration(value[1:])
		if err != nil {
			return nil, err
		}
		return &rangeBound{to: now - int64(d.Seconds())}, nil
	}
	return parseAbsolute(value, minOffset)
}

func parseAbsolute(value string, minOffset int) (*rangeBound, error) {
	datePart, timePart, _ := strings.Cut(value, " ")

	year, month, day := 0, 1, 1
	precision := 0 // 1=year 2=month 3=day 4=hour 5=minute 6=second

	if datePart != "" {
		parts := strings.Split(datePart, "/")
		if len(parts) > 3 {
			return nil, fmt.Errorf("too many date components")
		}
		vals := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid date component %q", p)
			}
			vals[i] = n
		}
		year = vals[0]
		precision = 1
		if len(vals) > 1 {
			month = vals[1]
			precision = 2
		}
		if len(vals) > 2 {
			day = vals[2]
			precision = 3
		}
	}
	if year == 0 {
		return nil, fmt.Errorf("missing year")
	}

	hour, minute, second := 0, 0, 0
	if timePart != "" {
		parts := strings.Split(timePart, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("too many time components")
		}
		vals := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid time component %q", p)
			}
			vals[i] = n
		}
		hour = vals[0]
		precision = 4
		if len(vals) > 1 {
			minute = vals[1]
			precision = 5
		}
		if len(vals) > 2 {
			second = vals[2]
			precision = 6
		}
	}

	start := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	var end time.Time
	switch precision {
	case 1:
		end = start.AddDate(1, 0, 0)
	case 2:
		end = start.AddDate(0, 1, 0)
	case 3:
		end = start.AddDate(0, 0, 1)
	case 4:
		end = start.Add(time.Hour)
	case 5:
		end = start.Add(time.Minute)
	default:
		end = start.Add(time.Second)
	}

	// The client reports minutes behind UTC; shifting by it converts the
	// client-local wall time to epoch.
	offset := int64(minOffset) * 60
	return &rangeBound{from: start.Unix() + offset, to: end.Unix() + offset}, nil
}

var durationUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"mo": 30 * 24 * time.Hour, "month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour, "year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

// parseHumanDuration parses compound intervals like "90s", "1d12h" or
// "2weeks".
func parseHumanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	var total time.Duration
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && unicode.IsDigit(rune(s[j])) {
			j++
		}
		if j == i {
			return 0, fmt.Errorf("expected number at %q", s[i:])
		}
		n, err := strconv.Atoi(s[i:j])
		if err != nil {
			return 0, err
		}
		k := j
		for k < len(s) && !unicode.IsDigit(rune(s[k])) {
			k++
		}
		unit := strings.TrimSpace(s[j:k])
		if unit == "" {
			unit = "s"
		}
		d, ok := durationUnits[unit]
		if !ok {
			return 0, fmt.Errorf("unknown unit %q", unit)
		}
		total += time.Duration(n) * d
		i = k
	}
	return total, nil
}
