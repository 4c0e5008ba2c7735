package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// defaultTimeOfDay is used when a clock rule omits its time.
const defaultTimeOfDay = "09:00"

var (
	reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	reAmPm  = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// parseTimeOfDay converts "18:00", "18:00:30", "6am", "6:30pm" or a bare hour
// to seconds since midnight. Unrecognized forms fall back to midnight.
func parseTimeOfDay(s string) int {
	t := strings.ToLower(strings.TrimSpace(s))
	if m := reClock.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec := 0
		if m[3] != "" {
			sec, _ = strconv.Atoi(m[3])
		}
		return h*3600 + min*60 + sec
	}
	if m := reAmPm.FindStringSubmatch(t); m != nil {
		h, _ := strconv.Atoi(m[1])
		min := 0
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && h < 12 {
			h += 12
		}
		if m[3] == "am" && h == 12 {
			h = 0
		}
		return h*3600 + min*60
	}
	return 0
}

// atTimeOfDay returns t's UTC calendar date at the given seconds-since-midnight.
func atTimeOfDay(t time.Time, secs int) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(secs) * time.Second)
}
