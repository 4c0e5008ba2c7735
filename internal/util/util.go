package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID. ULIDs are sortable (nice for DB indexes and dashboards).
func NewID(prefix string) string {
	t := time.Now().UTC()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewPostID() string { return NewID("post") }
func NewLogID() string  { return NewID("log") }

func NowUTC() time.Time {
	return time.Now().UTC()
}
