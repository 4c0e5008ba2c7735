package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"postpilot/internal/payload"
	"postpilot/internal/store"
)

func strp(s string) *string { return &s }

type fakeStore struct {
	due      []store.Post
	posts    map[string]store.Post
	webhooks map[string]store.Webhook
	headers  map[string][]store.Header
	fields   map[string][]payload.Field
	globals  map[string][]payload.Field

	sent   []string
	failed map[string]string
	logs   []store.SendLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		posts:    map[string]store.Post{},
		webhooks: map[string]store.Webhook{},
		headers:  map[string][]store.Header{},
		fields:   map[string][]payload.Field{},
		globals:  map[string][]payload.Field{},
		failed:   map[string]string{},
	}
}

func (f *fakeStore) DuePosts(ctx context.Context, now time.Time) ([]store.Post, error) {
	return f.due, nil
}

func (f *fakeStore) GetPost(ctx context.Context, accountID, postID string) (store.Post, bool, error) {
	p, ok := f.posts[postID]
	if !ok || p.AccountID != accountID {
		return store.Post{}, false, nil
	}
	return p, true, nil
}

func (f *fakeStore) GetWebhook(ctx context.Context, webhookID string) (store.Webhook, bool, error) {
	w, ok := f.webhooks[webhookID]
	return w, ok, nil
}

func (f *fakeStore) WebhookHeaders(ctx context.Context, webhookID string) ([]store.Header, error) {
	return f.headers[webhookID], nil
}

func (f *fakeStore) PostFields(ctx context.Context, postID string) ([]payload.Field, error) {
	return f.fields[postID], nil
}

func (f *fakeStore) GlobalVariables(ctx context.Context, accountID string) ([]payload.Field, error) {
	return f.globals[accountID], nil
}

func (f *fakeStore) MarkPostSent(ctx context.Context, postID string, now time.Time) error {
	f.sent = append(f.sent, postID)
	return nil
}

func (f *fakeStore) MarkPostFailed(ctx context.Context, postID, message string, now time.Time) error {
	f.failed[postID] = message
	return nil
}

func (f *fakeStore) InsertSendLog(ctx context.Context, in store.SendLog) error {
	f.logs = append(f.logs, in)
	return nil
}

type fakeSender struct {
	status  int
	body    string
	err     error
	byURL   map[string]int
	headers map[string]string
	bodies  []string
}

func (s *fakeSender) Deliver(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	s.headers = headers
	s.bodies = append(s.bodies, string(body))
	if s.err != nil {
		return 0, nil, s.err
	}
	if st, ok := s.byURL[url]; ok {
		return st, []byte(s.body), nil
	}
	return s.status, []byte(s.body), nil
}

func duePost(id, webhookID string) store.Post {
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return store.Post{
		ID:          id,
		AccountID:   "acct_1",
		WebhookID:   webhookID,
		Title:       "title " + id,
		ScheduledAt: &at,
		Status:      "scheduled",
	}
}

func testDispatcher(st *fakeStore, sender Sender) *Dispatcher {
	seq := 0
	return &Dispatcher{
		Store:  st,
		Sender: sender,
		IDGen: func() string {
			seq++
			return fmt.Sprintf("log_%d", seq)
		},
		Now: func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) },
	}
}

func TestSendDuePostsSuccess(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test/hook", APIKey: strp("secret")}
	st.due = []store.Post{duePost("post_1", "wh_1")}
	sender := &fakeSender{status: 200, body: "ok"}

	res, err := testDispatcher(st, sender).SendDuePosts(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(st.sent) != 1 || st.sent[0] != "post_1" {
		t.Fatalf("post not marked sent: %v", st.sent)
	}
	if len(st.logs) != 1 {
		t.Fatalf("expected exactly one log row, got %d", len(st.logs))
	}
	log := st.logs[0]
	if !log.Success || log.ResponseStatus == nil || *log.ResponseStatus != 200 {
		t.Fatalf("unexpected log: %+v", log)
	}
	if sender.headers["X-Api-Key"] != "secret" || sender.headers["Content-Type"] != "application/json" {
		t.Fatalf("unexpected headers: %v", sender.headers)
	}
}

func TestSendDuePostsFailureIsolated(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_bad"] = store.Webhook{ID: "wh_bad", URL: "https://bad.test"}
	st.webhooks["wh_ok"] = store.Webhook{ID: "wh_ok", URL: "https://ok.test"}
	st.due = []store.Post{duePost("post_1", "wh_bad"), duePost("post_2", "wh_ok")}
	sender := &fakeSender{body: "resp", byURL: map[string]int{"https://bad.test": 500, "https://ok.test": 201}}

	res, err := testDispatcher(st, sender).SendDuePosts(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Sent != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "post post_1: ") {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(st.logs) != 2 {
		t.Fatalf("expected one log per attempt, got %d", len(st.logs))
	}
	if msg := st.failed["post_1"]; msg != "500 Internal Server Error: resp" {
		t.Fatalf("unexpected failure message: %q", msg)
	}
}

func TestDispatchMissingWebhookStillLogged(t *testing.T) {
	st := newFakeStore()
	st.due = []store.Post{duePost("post_1", "wh_missing")}

	res, err := testDispatcher(st, &fakeSender{status: 200}).SendDuePosts(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st.failed["post_1"] != "Webhook not found" {
		t.Fatalf("unexpected failure message: %q", st.failed["post_1"])
	}
	if len(st.logs) != 1 {
		t.Fatalf("expected a log row even without a webhook, got %d", len(st.logs))
	}
	log := st.logs[0]
	if log.Success || log.ResponseStatus != nil || log.RequestBody != "" {
		t.Fatalf("unexpected log: %+v", log)
	}
	if log.ResponseBody == nil || *log.ResponseBody != "Webhook not found" {
		t.Fatalf("expected message captured in response body, got %v", log.ResponseBody)
	}
}

func TestDispatchInvalidOverrideFails(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test"}
	p := duePost("post_1", "wh_1")
	p.PayloadOverride = strp(`{not json`)
	st.due = []store.Post{p}
	sender := &fakeSender{status: 200}

	res, err := testDispatcher(st, sender).SendDuePosts(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(sender.bodies) != 0 {
		t.Fatal("nothing should have been delivered")
	}
	if len(st.logs) != 1 {
		t.Fatalf("expected one log row, got %d", len(st.logs))
	}
	log := st.logs[0]
	if log.ResponseStatus != nil {
		t.Fatalf("expected null status, got %v", *log.ResponseStatus)
	}
	if log.RequestBody != `{not json` {
		t.Fatalf("expected raw override as request body, got %q", log.RequestBody)
	}
}

func TestDispatchTransportError(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test"}
	st.due = []store.Post{duePost("post_1", "wh_1")}
	sender := &fakeSender{err: errors.New("connection refused")}

	res, err := testDispatcher(st, sender).SendDuePosts(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if st.failed["post_1"] != "connection refused" {
		t.Fatalf("unexpected failure message: %q", st.failed["post_1"])
	}
	if len(st.logs) != 1 || st.logs[0].ResponseStatus != nil {
		t.Fatalf("unexpected logs: %+v", st.logs)
	}
}

func TestDispatchStaticHeaderOverridesAPIKey(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test", APIKey: strp("from_webhook")}
	st.headers["wh_1"] = []store.Header{
		{Key: "X-Api-Key", Value: "from_header"},
		{Key: "  ", Value: "dropped"},
	}
	st.due = []store.Post{duePost("post_1", "wh_1")}
	sender := &fakeSender{status: 204}

	if _, err := testDispatcher(st, sender).SendDuePosts(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.headers["X-Api-Key"] != "from_header" {
		t.Fatalf("static header should win: %v", sender.headers)
	}
	if len(sender.headers) != 2 {
		t.Fatalf("blank header keys must be dropped: %v", sender.headers)
	}
}

func TestDispatchErrorExcerptTruncated(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test"}
	st.due = []store.Post{duePost("post_1", "wh_1")}
	sender := &fakeSender{status: 400, body: strings.Repeat("x", 5000)}

	if _, err := testDispatcher(st, sender).SendDuePosts(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	msg := st.failed["post_1"]
	want := "400 Bad Request: " + strings.Repeat("x", errorExcerptLen)
	if msg != want {
		t.Fatalf("unexpected message length %d: %q...", len(msg), msg[:40])
	}
	// The audit row keeps the (bounded) full body, not the excerpt.
	if st.logs[0].ResponseBody == nil || len(*st.logs[0].ResponseBody) != 5000 {
		t.Fatalf("unexpected logged body: %+v", st.logs[0].ResponseBody)
	}
}

func TestSendPostAccountScoped(t *testing.T) {
	st := newFakeStore()
	st.webhooks["wh_1"] = store.Webhook{ID: "wh_1", URL: "https://example.test"}
	p := duePost("post_1", "wh_1")
	st.posts["post_1"] = p
	sender := &fakeSender{status: 200}
	d := testDispatcher(st, sender)

	if resp := d.SendPost(context.Background(), "other_acct", "post_1"); resp.Success || resp.Error != "Post not found" {
		t.Fatalf("expected not found for foreign account, got %+v", resp)
	}
	if resp := d.SendPost(context.Background(), "acct_1", "post_1"); !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
}
