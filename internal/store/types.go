package store

import "time"

type Schedule struct {
	ID          string
	AccountID   string
	Name        string
	Description *string
	CreatedAt   time.Time
}

type Post struct {
	ID              string
	AccountID       string
	WebhookID       string
	ScheduleID      *string
	Title           string
	Content         *string
	ImageURL        *string
	PayloadOverride *string
	ScheduledAt     *time.Time
	Status          string
	SentAt          *time.Time
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Webhook struct {
	ID        string
	AccountID string
	Name      string
	URL       string
	APIKey    *string
}

type Header struct {
	Key   string
	Value string
}

// SendLog is one immutable delivery-attempt row. Rows are append-only.
type SendLog struct {
	ID             string
	AccountID      string
	PostID         string
	SentAt         time.Time
	RequestBody    string
	ResponseStatus *int
	ResponseBody   *string
	Success        bool
}

type PostInsert struct {
	ID              string
	AccountID       string
	WebhookID       string
	ScheduleID      *string
	Title           string
	Content         *string
	ImageURL        *string
	PayloadOverride *string
	ScheduledAt     *time.Time
	Status          string
	Now             time.Time
}
