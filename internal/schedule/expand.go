package schedule

import (
	"encoding/json"
	"strings"
	"time"

	gocron "github.com/robfig/cron/v3"

	"postpilot/internal/domain"
)

const (
	// MaxSlotsPerRule bounds a single rule's expansion so an open-ended cron
	// expression or far-future end date cannot produce a huge sequence.
	MaxSlotsPerRule = 500

	// MaxTotalSlots bounds the merged output across all of a schedule's rules.
	MaxTotalSlots = 2000
)

// Rule is one recurrence definition belonging to a schedule.
type Rule struct {
	ID         string
	ScheduleID string
	Kind       domain.RuleKind
	Config     json.RawMessage
	ValidFrom  *time.Time
	ValidUntil *time.Time
	OrderIndex int
}

// FixedSlot is a legacy absolute slot, consulted only when a schedule has no rules.
type FixedSlot struct {
	ScheduleID string
	At         time.Time
	OrderIndex int
}

type cronConfig struct {
	Expression string `json:"expression"`
}

type clockConfig struct {
	Time       string `json:"time"`
	DayOfWeek  *int   `json:"dayOfWeek"`
	DayOfMonth *int   `json:"dayOfMonth"`
	Month      *int   `json:"month"`
}

type intervalConfig struct {
	Amount *int   `json:"amount"`
	Unit   string `json:"unit"`
}

type onceConfig struct {
	At string `json:"at"`
}

var cronParser = gocron.NewParser(
	gocron.Second | gocron.Minute | gocron.Hour | gocron.Dom | gocron.Month | gocron.Dow | gocron.Descriptor,
)

// Expand produces the ordered instants a rule generates inside the window.
// windowEnd may be the zero time, meaning unbounded. Every instant is UTC and
// second-truncated, and the result holds at most min(maxCount, MaxSlotsPerRule)
// entries. Malformed configuration yields an empty result, never an error.
func Expand(rule Rule, windowStart, windowEnd time.Time, maxCount int) []time.Time {
	start := Normalize(windowStart)
	if rule.ValidFrom != nil {
		if from := Normalize(*rule.ValidFrom); from.After(start) {
			start = from
		}
	}
	var end time.Time
	if !windowEnd.IsZero() {
		end = Normalize(windowEnd)
	}
	if rule.ValidUntil != nil {
		until := Normalize(*rule.ValidUntil)
		if end.IsZero() || until.Before(end) {
			end = until
		}
	}
	if !end.IsZero() && end.Before(start) {
		return nil
	}

	limit := maxCount
	if limit > MaxSlotsPerRule {
		limit = MaxSlotsPerRule
	}
	if limit <= 0 {
		return nil
	}

	switch rule.Kind {
	case domain.KindOnce:
		var cfg onceConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandOnce(cfg, start, end)
	case domain.KindCron:
		var cfg cronConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandCron(cfg, start, end, limit)
	case domain.KindDaily:
		var cfg clockConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandDaily(cfg, start, end, limit)
	case domain.KindWeekly:
		var cfg clockConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandWeekly(cfg, start, end, limit)
	case domain.KindMonthly:
		var cfg clockConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandMonthly(cfg, start, end, limit)
	case domain.KindYearly:
		var cfg clockConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandYearly(cfg, start, end, limit)
	case domain.KindInterval:
		var cfg intervalConfig
		if json.Unmarshal(rule.Config, &cfg) != nil {
			return nil
		}
		return expandInterval(cfg, start, end, limit)
	}
	return nil
}

func expandOnce(cfg onceConfig, start, end time.Time) []time.Time {
	if cfg.At == "" {
		return nil
	}
	at, err := ParseSlot(cfg.At)
	if err != nil {
		return nil
	}
	if at.Before(start) {
		return nil
	}
	if !end.IsZero() && at.After(end) {
		return nil
	}
	return []time.Time{at}
}

func expandCron(cfg cronConfig, start, end time.Time, limit int) []time.Time {
	expr := strings.TrimSpace(cfg.Expression)
	if expr == "" {
		return nil
	}
	// Accept 5-field Unix expressions by prefixing a zero seconds field.
	if len(strings.Fields(expr)) == 5 {
		expr = "0 " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil
	}
	out := make([]time.Time, 0, limit)
	t := start
	for len(out) < limit {
		next := sched.Next(t)
		if next.IsZero() {
			break
		}
		if !end.IsZero() && next.After(end) {
			break
		}
		out = append(out, Normalize(next))
		t = next
	}
	return out
}

func expandDaily(cfg clockConfig, start, end time.Time, limit int) []time.Time {
	secs := parseTimeOfDay(timeOrDefault(cfg.Time))
	d := atTimeOfDay(start, secs)
	if d.Before(start) {
		d = d.AddDate(0, 0, 1)
	}
	out := make([]time.Time, 0, limit)
	for len(out) < limit {
		if !end.IsZero() && d.After(end) {
			break
		}
		out = append(out, d)
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func expandWeekly(cfg clockConfig, start, end time.Time, limit int) []time.Time {
	dow := 0
	if cfg.DayOfWeek != nil {
		dow = *cfg.DayOfWeek
	}
	if dow < 0 || dow > 6 {
		return nil
	}
	secs := parseTimeOfDay(timeOrDefault(cfg.Time))
	// UTC wall-clock so the weekday is deterministic regardless of server TZ.
	d := atTimeOfDay(start, secs)
	for int(d.Weekday()) != dow || d.Before(start) {
		d = atTimeOfDay(d.AddDate(0, 0, 1), secs)
	}
	out := make([]time.Time, 0, limit)
	for len(out) < limit {
		if !end.IsZero() && d.After(end) {
			break
		}
		out = append(out, d)
		d = d.Add(7 * 24 * time.Hour)
	}
	return out
}

func expandMonthly(cfg clockConfig, start, end time.Time, limit int) []time.Time {
	day := clampInt(intOrDefault(cfg.DayOfMonth, 1), 1, 31)
	secs := parseTimeOfDay(timeOrDefault(cfg.Time))
	y, m, _ := start.Date()
	d := monthDay(y, m, day, secs)
	if d.Before(start) {
		y, m = nextMonth(y, m)
		d = monthDay(y, m, day, secs)
	}
	out := make([]time.Time, 0, limit)
	for len(out) < limit {
		if !end.IsZero() && d.After(end) {
			break
		}
		out = append(out, d)
		y, m = nextMonth(y, m)
		d = monthDay(y, m, day, secs)
	}
	return out
}

func expandYearly(cfg clockConfig, start, end time.Time, limit int) []time.Time {
	month := time.Month(clampInt(intOrDefault(cfg.Month, 1), 1, 12))
	day := clampInt(intOrDefault(cfg.DayOfMonth, 1), 1, 31)
	secs := parseTimeOfDay(timeOrDefault(cfg.Time))
	y := start.Year()
	d := monthDay(y, month, day, secs)
	if d.Before(start) {
		y++
		d = monthDay(y, month, day, secs)
	}
	out := make([]time.Time, 0, limit)
	for len(out) < limit {
		if !end.IsZero() && d.After(end) {
			break
		}
		out = append(out, d)
		y++
		d = monthDay(y, month, day, secs)
	}
	return out
}

func expandInterval(cfg intervalConfig, start, end time.Time, limit int) []time.Time {
	amount := intOrDefault(cfg.Amount, 1)
	if amount <= 0 {
		return nil
	}
	unit := cfg.Unit
	if unit == "" {
		unit = "hours"
	}
	out := make([]time.Time, 0, limit)
	d := start
	for len(out) < limit {
		if !end.IsZero() && d.After(end) {
			break
		}
		out = append(out, d)
		d = addInterval(d, amount, unit)
	}
	return out
}

func addInterval(t time.Time, amount int, unit string) time.Time {
	switch unit {
	case "seconds":
		return t.Add(time.Duration(amount) * time.Second)
	case "minutes":
		return t.Add(time.Duration(amount) * time.Minute)
	case "hours":
		return t.Add(time.Duration(amount) * time.Hour)
	case "days":
		return t.AddDate(0, 0, amount)
	default:
		return t.Add(time.Duration(amount) * time.Minute)
	}
}

// monthDay builds the instant for day-of-month clamped to the month's actual
// length, at the given time of day.
func monthDay(y int, m time.Month, day, secs int) time.Time {
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Add(time.Duration(secs) * time.Second)
}

func nextMonth(y int, m time.Month) (int, time.Month) {
	if m == time.December {
		return y + 1, time.January
	}
	return y, m + 1
}

func timeOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return defaultTimeOfDay
	}
	return s
}

func intOrDefault(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
