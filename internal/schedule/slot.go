package schedule

import (
	"fmt"
	"strings"
	"time"
)

// SlotLayout is the canonical wire form of a slot: UTC, second precision.
const SlotLayout = "2006-01-02T15:04:05"

// Normalize brings an instant to the canonical slot granularity.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func FormatSlot(t time.Time) string {
	return Normalize(t).Format(SlotLayout)
}

// ParseSlot parses a slot timestamp. Both "date T time" and "date space time"
// separators are accepted, with or without seconds or a trailing zone.
func ParseSlot(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}
	for _, layout := range []string{SlotLayout, "2006-01-02T15:04", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid slot timestamp %q", s)
}
