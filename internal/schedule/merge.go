package schedule

import (
	"sort"
	"time"
)

const (
	// mergeOverscan is how many extra slots each rule is asked for beyond the
	// requested count, to tolerate dedup loss when rules overlap.
	mergeOverscan = 100

	// Preview defaults, mirroring the bounded horizon shown in calendar UIs.
	PreviewDays            = 42
	maxPreviewSlotsPerRule = 100
)

// Merge combines the expansions of a schedule's rules into a single ordered,
// deduplicated slot list, truncated to requested (itself capped at
// MaxTotalSlots). With zero rules it falls back to the legacy fixed slots in
// orderIndex order, un-deduplicated.
func Merge(rules []Rule, fixed []FixedSlot, from time.Time, requested int) []time.Time {
	if requested > MaxTotalSlots {
		requested = MaxTotalSlots
	}
	if requested <= 0 {
		return nil
	}

	if len(rules) == 0 {
		sort.SliceStable(fixed, func(i, j int) bool { return fixed[i].OrderIndex < fixed[j].OrderIndex })
		n := len(fixed)
		if n > requested {
			n = requested
		}
		out := make([]time.Time, 0, n)
		for _, s := range fixed[:n] {
			out = append(out, Normalize(s.At))
		}
		return out
	}

	var all []time.Time
	for _, rule := range rules {
		all = append(all, Expand(rule, from, time.Time{}, requested+mergeOverscan)...)
	}
	return dedupeSorted(all, requested)
}

// Preview expands a rule set over a bounded horizon of daysAhead days without
// consulting post state. Used for calendar previews of unsaved rules.
func Preview(rules []Rule, from time.Time, daysAhead int) []time.Time {
	if daysAhead <= 0 {
		daysAhead = PreviewDays
	}
	end := from.AddDate(0, 0, daysAhead)
	var all []time.Time
	for _, rule := range rules {
		all = append(all, Expand(rule, from, end, maxPreviewSlotsPerRule)...)
	}
	return dedupeSorted(all, MaxTotalSlots)
}

func dedupeSorted(all []time.Time, limit int) []time.Time {
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	out := make([]time.Time, 0, len(all))
	seen := make(map[string]struct{}, len(all))
	for _, t := range all {
		key := FormatSlot(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Normalize(t))
		if len(out) >= limit {
			break
		}
	}
	return out
}
