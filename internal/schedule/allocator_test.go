package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"postpilot/internal/domain"
)

type fakeAllocStore struct {
	rules []Rule
	fixed []FixedSlot
	taken map[string][]time.Time // keyed by excludePostID
}

func (f *fakeAllocStore) ListRules(ctx context.Context, scheduleID string) ([]Rule, error) {
	return f.rules, nil
}

func (f *fakeAllocStore) ListFixedSlots(ctx context.Context, scheduleID string) ([]FixedSlot, error) {
	return f.fixed, nil
}

func (f *fakeAllocStore) TakenSlots(ctx context.Context, scheduleID, excludePostID string) ([]time.Time, error) {
	return f.taken[excludePostID], nil
}

func fixedNow(t *testing.T, s string) func() time.Time {
	t.Helper()
	at := mustParse(t, s)
	return func() time.Time { return at }
}

func TestNextFreeSlotSkipsTaken(t *testing.T) {
	store := &fakeAllocStore{
		rules: []Rule{rule(domain.KindDaily, `{"time":"09:00"}`)},
		taken: map[string][]time.Time{
			"": {mustParse(t, "2024-01-01T09:00:00"), mustParse(t, "2024-01-02T09:00:00")},
		},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	slot, ok, err := a.NextFreeSlot(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("next free slot: %v", err)
	}
	if !ok {
		t.Fatal("expected a free slot")
	}
	if got := FormatSlot(slot); got != "2024-01-03T09:00:00" {
		t.Fatalf("expected first untaken slot, got %s", got)
	}
}

func TestNextFreeSlotExcludesOwnPost(t *testing.T) {
	store := &fakeAllocStore{
		rules: []Rule{rule(domain.KindDaily, `{"time":"09:00"}`)},
		taken: map[string][]time.Time{
			"":       {mustParse(t, "2024-01-01T09:00:00")},
			"post_1": {}, // post_1's own slot is released for reuse
		},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	slot, ok, err := a.NextFreeSlot(context.Background(), "s1", "post_1")
	if err != nil || !ok {
		t.Fatalf("next free slot: ok=%v err=%v", ok, err)
	}
	if got := FormatSlot(slot); got != "2024-01-01T09:00:00" {
		t.Fatalf("expected the post's own slot back, got %s", got)
	}
}

func TestNextFreeSlotExhausted(t *testing.T) {
	store := &fakeAllocStore{
		rules: []Rule{rule(domain.KindOnce, `{"at":"2024-01-05T09:00:00"}`)},
		taken: map[string][]time.Time{
			"": {mustParse(t, "2024-01-05T09:00:00")},
		},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	_, ok, err := a.NextFreeSlot(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("next free slot: %v", err)
	}
	if ok {
		t.Fatal("expected exhaustion, not an available slot")
	}
}

func TestGenerateSlotsUsesFixedWhenNoRules(t *testing.T) {
	store := &fakeAllocStore{
		fixed: []FixedSlot{
			{ScheduleID: "s1", At: mustParse(t, "2024-04-01T10:00:00"), OrderIndex: 0},
			{ScheduleID: "s1", At: mustParse(t, "2024-04-02T10:00:00"), OrderIndex: 1},
		},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	slots, err := a.GenerateSlots(context.Background(), "s1", 10, time.Time{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	assertSlots(t, slots, "2024-04-01T10:00:00", "2024-04-02T10:00:00")
}

func TestBatchSlotsInsufficient(t *testing.T) {
	store := &fakeAllocStore{
		rules: []Rule{rule(domain.KindOnce, `{"at":"2024-01-05T09:00:00"}`)},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	_, err := a.BatchSlots(context.Background(), "s1", 3)
	var insufficient *InsufficientSlotsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientSlotsError, got %v", err)
	}
	if insufficient.Available != 1 || insufficient.Requested != 3 {
		t.Fatalf("unexpected counts: %+v", insufficient)
	}
}

func TestBatchSlotsSatisfied(t *testing.T) {
	store := &fakeAllocStore{
		rules: []Rule{rule(domain.KindDaily, `{"time":"09:00"}`)},
	}
	a := &Allocator{Store: store, Now: fixedNow(t, "2024-01-01T00:00:00")}

	slots, err := a.BatchSlots(context.Background(), "s1", 3)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
}
