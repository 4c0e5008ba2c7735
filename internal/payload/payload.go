// Package payload composes the outbound JSON body for a post from its base
// attributes, typed custom fields, and account-wide variables.
package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/schedule"
)

// Field is one (key, declared type, raw value) row. Keys are dotted/indexed
// paths such as "a.b[0].c".
type Field struct {
	Key   string
	Type  domain.FieldType
	Value *string
}

// Base holds the post attributes every computed body starts from.
type Base struct {
	Title       string
	Content     *string
	ImageURL    *string
	ScheduledAt *time.Time
}

// Build returns the JSON document to deliver for a post. A non-empty raw
// override replaces the computed body entirely; if it is not valid JSON the
// dispatch of this post must fail, so an error is returned. Otherwise the body
// starts from the base attributes, then post fields, then globals (globals win
// on equal key paths).
func Build(base Base, postFields, globals []Field, rawOverride *string) ([]byte, error) {
	if rawOverride != nil && strings.TrimSpace(*rawOverride) != "" {
		raw := []byte(*rawOverride)
		var probe any
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("invalid JSON payload override: %w", err)
		}
		return raw, nil
	}

	body := map[string]any{
		"title":        base.Title,
		"content":      base.Content,
		"image_url":    base.ImageURL,
		"scheduled_at": nil,
	}
	if base.ScheduledAt != nil {
		body["scheduled_at"] = schedule.FormatSlot(*base.ScheduledAt)
	}
	for _, f := range postFields {
		SetByPath(body, f.Key, ParseValue(f.Type, f.Value))
	}
	for _, g := range globals {
		SetByPath(body, g.Key, ParseValue(g.Type, g.Value))
	}
	return json.Marshal(body)
}

// ParseValue interprets a raw string value per its declared type. Unparseable
// numbers become null and unparseable JSON falls back to the raw string; the
// declared type never causes an error.
func ParseValue(ft domain.FieldType, value *string) any {
	if value == nil {
		return nil
	}
	v := *value
	if v == "" {
		return v
	}
	switch ft {
	case domain.FieldNumber:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return n
	case domain.FieldBoolean:
		return v == "true" || v == "1"
	case domain.FieldJSON:
		var out any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return v
		}
		return out
	default:
		return v
	}
}
