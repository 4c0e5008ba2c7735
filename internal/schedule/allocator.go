package schedule

import (
	"context"
	"fmt"
	"time"
)

// Store is the slice of persistence the allocator needs.
type Store interface {
	ListRules(ctx context.Context, scheduleID string) ([]Rule, error)
	ListFixedSlots(ctx context.Context, scheduleID string) ([]FixedSlot, error)
	// TakenSlots returns the slots already consumed by posts bound to the
	// schedule. excludePostID, when non-empty, leaves that post's slot out so
	// it can be reassigned to itself.
	TakenSlots(ctx context.Context, scheduleID, excludePostID string) ([]time.Time, error)
}

// InsufficientSlotsError reports a batch allocation that could not be
// satisfied. No partial assignment is performed when it is returned.
type InsufficientSlotsError struct {
	Available int
	Requested int
}

func (e *InsufficientSlotsError) Error() string {
	return fmt.Sprintf("schedule generates %d slot(s) but %d requested", e.Available, e.Requested)
}

// Allocator resolves free slots for posts against a schedule's generated slots.
type Allocator struct {
	Store Store
	Now   func() time.Time
}

func (a *Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// GenerateSlots returns up to count merged slots for the schedule starting at
// from; the zero time means "from now".
func (a *Allocator) GenerateSlots(ctx context.Context, scheduleID string, count int, from time.Time) ([]time.Time, error) {
	rules, err := a.Store.ListRules(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	var fixed []FixedSlot
	if len(rules) == 0 {
		fixed, err = a.Store.ListFixedSlots(ctx, scheduleID)
		if err != nil {
			return nil, err
		}
	}
	if from.IsZero() {
		from = a.now()
	}
	return Merge(rules, fixed, from, count), nil
}

// NextFreeSlot returns the earliest generated slot that is not already taken
// by a sibling post and not in the past. The second return value is false when
// the schedule is exhausted; that is a capacity condition, not an error.
func (a *Allocator) NextFreeSlot(ctx context.Context, scheduleID, excludePostID string) (time.Time, bool, error) {
	taken, err := a.Store.TakenSlots(ctx, scheduleID, excludePostID)
	if err != nil {
		return time.Time{}, false, err
	}
	takenSet := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		takenSet[FormatSlot(t)] = struct{}{}
	}

	now := Normalize(a.now())
	slots, err := a.GenerateSlots(ctx, scheduleID, MaxSlotsPerRule, now)
	if err != nil {
		return time.Time{}, false, err
	}
	for _, slot := range slots {
		if _, used := takenSet[FormatSlot(slot)]; used {
			continue
		}
		if slot.Before(now) {
			continue
		}
		return slot, true, nil
	}
	return time.Time{}, false, nil
}

// BatchSlots generates slots for assigning one per post in a batch operation.
// It fails with InsufficientSlotsError when fewer than n distinct slots are
// available, so callers can refuse the whole batch.
func (a *Allocator) BatchSlots(ctx context.Context, scheduleID string, n int) ([]time.Time, error) {
	slots, err := a.GenerateSlots(ctx, scheduleID, n, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(slots) < n {
		return nil, &InsufficientSlotsError{Available: len(slots), Requested: n}
	}
	return slots[:n], nil
}
