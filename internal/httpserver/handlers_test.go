package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"postpilot/internal/dispatch"
	"postpilot/internal/domain"
	"postpilot/internal/payload"
	"postpilot/internal/schedule"
	"postpilot/internal/service"
	"postpilot/internal/store"
)

// handlerStore backs both the scheduling service and the dispatcher in tests.
type handlerStore struct {
	schedules map[string]store.Schedule
	rules     []schedule.Rule
	owned     int
}

func (h *handlerStore) ListRules(ctx context.Context, scheduleID string) ([]schedule.Rule, error) {
	return h.rules, nil
}

func (h *handlerStore) ListFixedSlots(ctx context.Context, scheduleID string) ([]schedule.FixedSlot, error) {
	return nil, nil
}

func (h *handlerStore) TakenSlots(ctx context.Context, scheduleID, excludePostID string) ([]time.Time, error) {
	return nil, nil
}

func (h *handlerStore) GetSchedule(ctx context.Context, accountID, scheduleID string) (store.Schedule, bool, error) {
	s, ok := h.schedules[scheduleID]
	if !ok || s.AccountID != accountID {
		return store.Schedule{}, false, nil
	}
	return s, true, nil
}

func (h *handlerStore) CountOwnedPosts(ctx context.Context, accountID string, postIDs []string) (int, error) {
	return h.owned, nil
}

func (h *handlerStore) SchedulePostIDs(ctx context.Context, accountID, scheduleID string) ([]string, error) {
	return nil, nil
}

func (h *handlerStore) InsertPost(ctx context.Context, in store.PostInsert) error { return nil }

func (h *handlerStore) AssignPostSlot(ctx context.Context, postID, scheduleID string, at, now time.Time) error {
	return nil
}

func (h *handlerStore) SetPostSlot(ctx context.Context, postID string, at *time.Time, now time.Time) error {
	return nil
}

func (h *handlerStore) ListScheduleFields(ctx context.Context, scheduleID string) ([]payload.Field, error) {
	return nil, nil
}

func (h *handlerStore) UpsertPostField(ctx context.Context, fieldID, postID string, f payload.Field) error {
	return nil
}

// dispatch.Store methods so the same fake can serve /v1/dispatch/run.
func (h *handlerStore) DuePosts(ctx context.Context, now time.Time) ([]store.Post, error) {
	return nil, nil
}

func (h *handlerStore) GetPost(ctx context.Context, accountID, postID string) (store.Post, bool, error) {
	return store.Post{}, false, nil
}

func (h *handlerStore) GetWebhook(ctx context.Context, webhookID string) (store.Webhook, bool, error) {
	return store.Webhook{}, false, nil
}

func (h *handlerStore) WebhookHeaders(ctx context.Context, webhookID string) ([]store.Header, error) {
	return nil, nil
}

func (h *handlerStore) PostFields(ctx context.Context, postID string) ([]payload.Field, error) {
	return nil, nil
}

func (h *handlerStore) GlobalVariables(ctx context.Context, accountID string) ([]payload.Field, error) {
	return nil, nil
}

func (h *handlerStore) MarkPostSent(ctx context.Context, postID string, now time.Time) error {
	return nil
}

func (h *handlerStore) MarkPostFailed(ctx context.Context, postID, message string, now time.Time) error {
	return nil
}

func (h *handlerStore) InsertSendLog(ctx context.Context, in store.SendLog) error { return nil }

type noopSender struct{}

func (noopSender) Deliver(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	return 200, nil, nil
}

func newTestRouter(st *handlerStore) http.Handler {
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	api := &API{
		Sched: &service.SchedulingService{
			Store: st,
			Alloc: &schedule.Allocator{Store: st, Now: now},
			Now:   now,
		},
		Disp: &dispatch.Dispatcher{Store: st, Sender: noopSender{}},
	}
	r := NewRouter()
	api.Register(r)
	return r
}

func testStore() *handlerStore {
	return &handlerStore{
		schedules: map[string]store.Schedule{
			"sch_1": {ID: "sch_1", AccountID: "acct_1"},
		},
		rules: []schedule.Rule{{
			ID:         "r1",
			ScheduleID: "sch_1",
			Kind:       domain.KindDaily,
			Config:     json.RawMessage(`{"time":"09:00"}`),
		}},
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, account, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if account != "" {
		req.Header.Set("X-Account-ID", account)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMissingAccountIdentity(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodGet, "/v1/schedules/sch_1/slots", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGenerateSlotsEndpoint(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodGet, "/v1/schedules/sch_1/slots?count=2", "acct_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.SlotListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Slots[0] != "2024-01-01T09:00:00" {
		t.Fatalf("unexpected slots: %v", resp.Slots)
	}
}

func TestGenerateSlotsUnknownSchedule(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodGet, "/v1/schedules/sch_missing/slots", "acct_1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCreatePostEndpoint(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodPost, "/v1/posts", "acct_1",
		`{"webhookId":"wh_1","scheduleId":"sch_1","title":"hi"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.CreatePostResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "scheduled" || resp.ScheduledAt == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreatePostValidation(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodPost, "/v1/posts", "acct_1", `{"title":"no webhook"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestApplyScheduleInsufficientSlots(t *testing.T) {
	st := testStore()
	st.rules = []schedule.Rule{{
		ID:         "r1",
		ScheduleID: "sch_1",
		Kind:       domain.KindOnce,
		Config:     json.RawMessage(`{"at":"2024-01-02T09:00:00"}`),
	}}
	st.owned = 2
	h := newTestRouter(st)

	rec := doRequest(t, h, http.MethodPost, "/v1/schedules/sch_1/apply", "acct_1",
		`{"postIds":["p1","p2"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "generates 1 slot(s) but 2 requested") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestApplyScheduleForeignPosts(t *testing.T) {
	st := testStore()
	st.owned = 1
	h := newTestRouter(st)

	rec := doRequest(t, h, http.MethodPost, "/v1/schedules/sch_1/apply", "acct_1",
		`{"postIds":["p1","p2"]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSendPostNotFound(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodPost, "/v1/posts/post_x/send", "acct_1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp domain.SendPostResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error != "Post not found" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatchRunEmpty(t *testing.T) {
	h := newTestRouter(testStore())
	rec := doRequest(t, h, http.MethodPost, "/v1/dispatch/run", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.DispatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sent != 0 || resp.Failed != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
