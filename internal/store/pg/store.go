package pg

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"postpilot/internal/payload"
	"postpilot/internal/schedule"
	"postpilot/internal/store"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) ListRules(ctx context.Context, scheduleID string) ([]schedule.Rule, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, schedule_id, kind, config, valid_from, valid_until, order_index
		FROM schedule_rules WHERE schedule_id=$1 ORDER BY order_index
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Rule
	for rows.Next() {
		var r schedule.Rule
		var config []byte
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.Kind, &config, &r.ValidFrom, &r.ValidUntil, &r.OrderIndex); err != nil {
			return nil, err
		}
		r.Config = json.RawMessage(config)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListFixedSlots(ctx context.Context, scheduleID string) ([]schedule.FixedSlot, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT schedule_id, scheduled_at, order_index
		FROM schedule_slots WHERE schedule_id=$1 ORDER BY order_index
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.FixedSlot
	for rows.Next() {
		var f schedule.FixedSlot
		if err := rows.Scan(&f.ScheduleID, &f.At, &f.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) TakenSlots(ctx context.Context, scheduleID, excludePostID string) ([]time.Time, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT scheduled_at FROM posts
		WHERE schedule_id=$1 AND scheduled_at IS NOT NULL AND ($2='' OR id<>$2)
	`, scheduleID, excludePostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetSchedule(ctx context.Context, accountID, scheduleID string) (store.Schedule, bool, error) {
	var sc store.Schedule
	err := s.DB.QueryRow(ctx, `
		SELECT id, account_id, name, description, created_at
		FROM schedules WHERE id=$1 AND account_id=$2
	`, scheduleID, accountID).Scan(&sc.ID, &sc.AccountID, &sc.Name, &sc.Description, &sc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Schedule{}, false, nil
		}
		return store.Schedule{}, false, err
	}
	return sc, true, nil
}

func (s *Store) CountOwnedPosts(ctx context.Context, accountID string, postIDs []string) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*) FROM posts WHERE account_id=$1 AND id = ANY($2)
	`, accountID, postIDs).Scan(&n)
	return n, err
}

// SchedulePostIDs returns the posts bound to a schedule in reschedule order:
// existing slot ascending with unscheduled posts last, then creation order.
func (s *Store) SchedulePostIDs(ctx context.Context, accountID, scheduleID string) ([]string, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id FROM posts WHERE schedule_id=$1 AND account_id=$2
		ORDER BY scheduled_at ASC NULLS LAST, created_at ASC
	`, scheduleID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) InsertPost(ctx context.Context, in store.PostInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO posts (id, account_id, webhook_id, schedule_id, title, content, image_url,
		                   payload_override, scheduled_at, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, in.ID, in.AccountID, in.WebhookID, in.ScheduleID, in.Title, in.Content, in.ImageURL,
		in.PayloadOverride, in.ScheduledAt, in.Status, in.Now)
	return err
}

// AssignPostSlot binds a post to a schedule slot and marks it scheduled.
func (s *Store) AssignPostSlot(ctx context.Context, postID, scheduleID string, at time.Time, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE posts SET scheduled_at=$2, schedule_id=$3, status='scheduled', updated_at=$4 WHERE id=$1
	`, postID, at, scheduleID, now)
	return err
}

// SetPostSlot updates only the slot; a nil slot unschedules the post.
func (s *Store) SetPostSlot(ctx context.Context, postID string, at *time.Time, now time.Time) error {
	if at == nil {
		_, err := s.DB.Exec(ctx, `
			UPDATE posts SET scheduled_at=NULL, status='draft', updated_at=$2 WHERE id=$1
		`, postID, now)
		return err
	}
	_, err := s.DB.Exec(ctx, `
		UPDATE posts SET scheduled_at=$2, status='scheduled', updated_at=$3 WHERE id=$1
	`, postID, *at, now)
	return err
}

func (s *Store) ListScheduleFields(ctx context.Context, scheduleID string) ([]payload.Field, error) {
	return s.queryFields(ctx, `
		SELECT key, type, value FROM schedule_fields WHERE schedule_id=$1
	`, scheduleID)
}

func (s *Store) UpsertPostField(ctx context.Context, fieldID, postID string, f payload.Field) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO post_fields (id, post_id, key, type, value)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (post_id, key) DO UPDATE SET type=EXCLUDED.type, value=EXCLUDED.value
	`, fieldID, postID, f.Key, f.Type, f.Value)
	return err
}

func (s *Store) DuePosts(ctx context.Context, now time.Time) ([]store.Post, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, account_id, webhook_id, schedule_id, title, content, image_url,
		       payload_override, scheduled_at, status, sent_at, error_message, created_at, updated_at
		FROM posts
		WHERE status='scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
		ORDER BY scheduled_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPost(ctx context.Context, accountID, postID string) (store.Post, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, account_id, webhook_id, schedule_id, title, content, image_url,
		       payload_override, scheduled_at, status, sent_at, error_message, created_at, updated_at
		FROM posts WHERE id=$1 AND account_id=$2
	`, postID, accountID)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Post{}, false, nil
		}
		return store.Post{}, false, err
	}
	return p, true, nil
}

func (s *Store) GetWebhook(ctx context.Context, webhookID string) (store.Webhook, bool, error) {
	var w store.Webhook
	err := s.DB.QueryRow(ctx, `
		SELECT id, account_id, name, url, api_key FROM webhook_configs WHERE id=$1
	`, webhookID).Scan(&w.ID, &w.AccountID, &w.Name, &w.URL, &w.APIKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Webhook{}, false, nil
		}
		return store.Webhook{}, false, err
	}
	return w, true, nil
}

func (s *Store) WebhookHeaders(ctx context.Context, webhookID string) ([]store.Header, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT key, value FROM webhook_headers WHERE webhook_id=$1
	`, webhookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Header
	for rows.Next() {
		var h store.Header
		if err := rows.Scan(&h.Key, &h.Value); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) PostFields(ctx context.Context, postID string) ([]payload.Field, error) {
	return s.queryFields(ctx, `
		SELECT key, type, value FROM post_fields WHERE post_id=$1
	`, postID)
}

func (s *Store) GlobalVariables(ctx context.Context, accountID string) ([]payload.Field, error) {
	return s.queryFields(ctx, `
		SELECT key, type, value FROM global_variables WHERE account_id=$1
	`, accountID)
}

func (s *Store) MarkPostSent(ctx context.Context, postID string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE posts SET status='sent', sent_at=$2, error_message=NULL, updated_at=$2 WHERE id=$1
	`, postID, now)
	return err
}

func (s *Store) MarkPostFailed(ctx context.Context, postID, message string, now time.Time) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE posts SET status='failed', error_message=$2, updated_at=$3 WHERE id=$1
	`, postID, message, now)
	return err
}

func (s *Store) InsertSendLog(ctx context.Context, in store.SendLog) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO send_logs (id, account_id, post_id, sent_at, request_json, response_status, response_body, success)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, in.ID, in.AccountID, in.PostID, in.SentAt, in.RequestBody, in.ResponseStatus, in.ResponseBody, in.Success)
	return err
}

func (s *Store) queryFields(ctx context.Context, sql string, arg any) ([]payload.Field, error) {
	rows, err := s.DB.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payload.Field
	for rows.Next() {
		var f payload.Field
		if err := rows.Scan(&f.Key, &f.Type, &f.Value); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanPost(row pgx.Row) (store.Post, error) {
	var p store.Post
	err := row.Scan(&p.ID, &p.AccountID, &p.WebhookID, &p.ScheduleID, &p.Title, &p.Content, &p.ImageURL,
		&p.PayloadOverride, &p.ScheduledAt, &p.Status, &p.SentAt, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
