package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/observability"
	"postpilot/internal/payload"
	"postpilot/internal/schedule"
	"postpilot/internal/store"
	"postpilot/internal/util"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrPostNotOwned     = errors.New("one or more posts are not accessible")
	ErrNoRules          = errors.New("schedule has no rules")
	ErrNoPosts          = errors.New("no posts are attached to this schedule")
	ErrInvalidOverride  = errors.New("payload override is not valid JSON")
)

type Store interface {
	schedule.Store

	GetSchedule(ctx context.Context, accountID, scheduleID string) (store.Schedule, bool, error)
	CountOwnedPosts(ctx context.Context, accountID string, postIDs []string) (int, error)
	SchedulePostIDs(ctx context.Context, accountID, scheduleID string) ([]string, error)
	InsertPost(ctx context.Context, in store.PostInsert) error
	AssignPostSlot(ctx context.Context, postID, scheduleID string, at time.Time, now time.Time) error
	SetPostSlot(ctx context.Context, postID string, at *time.Time, now time.Time) error
	ListScheduleFields(ctx context.Context, scheduleID string) ([]payload.Field, error)
	UpsertPostField(ctx context.Context, fieldID, postID string, f payload.Field) error
}

// SchedulingService is the entry point for slot generation and allocation.
type SchedulingService struct {
	Store Store
	Alloc *schedule.Allocator
	IDGen func(prefix string) string
	Now   func() time.Time
}

func (s *SchedulingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *SchedulingService) newID(prefix string) string {
	if s.IDGen != nil {
		return s.IDGen(prefix)
	}
	return util.NewID(prefix)
}

// CreatePost persists a new post. The payload override is validated here, at
// save time, never at send time. When a schedule is attached the next free
// slot is allocated; with no free slot the post stays a draft.
func (s *SchedulingService) CreatePost(ctx context.Context, accountID string, req domain.CreatePostRequest) (domain.CreatePostResponse, error) {
	if req.PayloadOverride != nil && strings.TrimSpace(*req.PayloadOverride) != "" {
		if !json.Valid([]byte(*req.PayloadOverride)) {
			return domain.CreatePostResponse{}, ErrInvalidOverride
		}
	}

	now := s.now()
	in := store.PostInsert{
		ID:              s.newID("post"),
		AccountID:       accountID,
		WebhookID:       req.WebhookID,
		Title:           req.Title,
		Content:         req.Content,
		ImageURL:        req.ImageURL,
		PayloadOverride: req.PayloadOverride,
		Status:          string(domain.StatusDraft),
		Now:             now,
	}
	if req.ScheduleID != "" {
		if _, found, err := s.Store.GetSchedule(ctx, accountID, req.ScheduleID); err != nil {
			return domain.CreatePostResponse{}, err
		} else if !found {
			return domain.CreatePostResponse{}, ErrScheduleNotFound
		}
		in.ScheduleID = &req.ScheduleID

		slot, ok, err := s.Alloc.NextFreeSlot(ctx, req.ScheduleID, "")
		if err != nil {
			return domain.CreatePostResponse{}, err
		}
		if ok {
			observability.SlotAllocations.WithLabelValues("allocated").Inc()
			in.ScheduledAt = &slot
			in.Status = string(domain.StatusScheduled)
		} else {
			observability.SlotAllocations.WithLabelValues("exhausted").Inc()
		}
	}

	if err := s.Store.InsertPost(ctx, in); err != nil {
		return domain.CreatePostResponse{}, err
	}
	resp := domain.CreatePostResponse{PostID: in.ID, Status: in.Status}
	if in.ScheduledAt != nil {
		resp.ScheduledAt = schedule.FormatSlot(*in.ScheduledAt)
	}
	return resp, nil
}

// GenerateSlots returns up to count slots for a schedule, starting at from
// (zero time means now).
func (s *SchedulingService) GenerateSlots(ctx context.Context, accountID, scheduleID string, count int, from time.Time) ([]string, error) {
	if err := s.requireSchedule(ctx, accountID, scheduleID); err != nil {
		return nil, err
	}
	slots, err := s.Alloc.GenerateSlots(ctx, scheduleID, count, from)
	if err != nil {
		return nil, err
	}
	return formatSlots(slots), nil
}

// PreviewSlots expands a schedule's rules over a bounded horizon of days.
func (s *SchedulingService) PreviewSlots(ctx context.Context, accountID, scheduleID string, daysAhead int) ([]string, error) {
	if err := s.requireSchedule(ctx, accountID, scheduleID); err != nil {
		return nil, err
	}
	rules, err := s.Store.ListRules(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	return formatSlots(schedule.Preview(rules, s.now(), daysAhead)), nil
}

// NextFreeSlot reports the earliest unused future slot, if any remain.
func (s *SchedulingService) NextFreeSlot(ctx context.Context, accountID, scheduleID, excludePostID string) (string, bool, error) {
	if err := s.requireSchedule(ctx, accountID, scheduleID); err != nil {
		return "", false, err
	}
	slot, ok, err := s.Alloc.NextFreeSlot(ctx, scheduleID, excludePostID)
	if err != nil || !ok {
		return "", false, err
	}
	return schedule.FormatSlot(slot), true, nil
}

// ApplySchedule assigns one slot per selected post, all or nothing, and merges
// the schedule's custom fields into each post.
func (s *SchedulingService) ApplySchedule(ctx context.Context, accountID, scheduleID string, postIDs []string) (int, error) {
	if err := s.requireSchedule(ctx, accountID, scheduleID); err != nil {
		return 0, err
	}
	owned, err := s.Store.CountOwnedPosts(ctx, accountID, postIDs)
	if err != nil {
		return 0, err
	}
	if owned != len(postIDs) {
		return 0, ErrPostNotOwned
	}

	slots, err := s.Alloc.BatchSlots(ctx, scheduleID, len(postIDs))
	if err != nil {
		return 0, err
	}

	scheduleFields, err := s.Store.ListScheduleFields(ctx, scheduleID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	for i, postID := range postIDs {
		if err := s.Store.AssignPostSlot(ctx, postID, scheduleID, slots[i], now); err != nil {
			return i, fmt.Errorf("assign slot to post %s: %w", postID, err)
		}
		for _, f := range scheduleFields {
			if err := s.Store.UpsertPostField(ctx, s.newID("field"), postID, f); err != nil {
				return i, fmt.Errorf("merge schedule field %q into post %s: %w", f.Key, postID, err)
			}
		}
	}
	return len(postIDs), nil
}

// Reschedule re-runs the free-slot search for every post bound to a schedule.
// Posts that no longer fit are unscheduled rather than left on a stale slot.
func (s *SchedulingService) Reschedule(ctx context.Context, accountID, scheduleID string) (rescheduled, unscheduled int, err error) {
	if err := s.requireSchedule(ctx, accountID, scheduleID); err != nil {
		return 0, 0, err
	}
	rules, err := s.Store.ListRules(ctx, scheduleID)
	if err != nil {
		return 0, 0, err
	}
	if len(rules) == 0 {
		return 0, 0, ErrNoRules
	}
	postIDs, err := s.Store.SchedulePostIDs(ctx, accountID, scheduleID)
	if err != nil {
		return 0, 0, err
	}
	if len(postIDs) == 0 {
		return 0, 0, ErrNoPosts
	}

	now := s.now()
	for _, postID := range postIDs {
		slot, ok, err := s.Alloc.NextFreeSlot(ctx, scheduleID, postID)
		if err != nil {
			return rescheduled, unscheduled, err
		}
		if ok {
			if err := s.Store.SetPostSlot(ctx, postID, &slot, now); err != nil {
				return rescheduled, unscheduled, err
			}
			rescheduled++
		} else {
			if err := s.Store.SetPostSlot(ctx, postID, nil, now); err != nil {
				return rescheduled, unscheduled, err
			}
			unscheduled++
		}
	}
	return rescheduled, unscheduled, nil
}

func (s *SchedulingService) requireSchedule(ctx context.Context, accountID, scheduleID string) error {
	_, found, err := s.Store.GetSchedule(ctx, accountID, scheduleID)
	if err != nil {
		return err
	}
	if !found {
		return ErrScheduleNotFound
	}
	return nil
}

func formatSlots(slots []time.Time) []string {
	out := make([]string, 0, len(slots))
	for _, t := range slots {
		out = append(out, schedule.FormatSlot(t))
	}
	return out
}
