package domain

import "errors"

type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusScheduled PostStatus = "scheduled"
	StatusSent      PostStatus = "sent"
	StatusFailed    PostStatus = "failed"
)

type RuleKind string

const (
	KindCron     RuleKind = "cron"
	KindDaily    RuleKind = "daily"
	KindWeekly   RuleKind = "weekly"
	KindMonthly  RuleKind = "monthly"
	KindYearly   RuleKind = "yearly"
	KindInterval RuleKind = "interval"
	KindOnce     RuleKind = "once"
)

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldJSON    FieldType = "json"
)

type CreatePostRequest struct {
	WebhookID       string  `json:"webhookId"`
	ScheduleID      string  `json:"scheduleId,omitempty"`
	Title           string  `json:"title"`
	Content         *string `json:"content,omitempty"`
	ImageURL        *string `json:"imageUrl,omitempty"`
	PayloadOverride *string `json:"payloadOverride,omitempty"`
}

func (r CreatePostRequest) Validate() error {
	if r.WebhookID == "" || r.Title == "" {
		return ErrMissingFields
	}
	return nil
}

type ApplyScheduleRequest struct {
	PostIDs []string `json:"postIds"`
}

func (r ApplyScheduleRequest) Validate() error {
	if len(r.PostIDs) == 0 {
		return ErrMissingFields
	}
	return nil
}

var ErrMissingFields = errors.New("missing required fields")

type CreatePostResponse struct {
	PostID      string `json:"postId"`
	Status      string `json:"status"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
}

type SlotListResponse struct {
	Slots []string `json:"slots"`
}

type NextSlotResponse struct {
	Slot      string `json:"slot,omitempty"`
	Available bool   `json:"available"`
}

type ApplyScheduleResponse struct {
	Applied int `json:"applied"`
}

type RescheduleResponse struct {
	Rescheduled int `json:"rescheduled"`
	Unscheduled int `json:"unscheduled"`
}

type DispatchResponse struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

type SendPostResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
