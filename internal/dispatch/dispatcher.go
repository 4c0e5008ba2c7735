// Package dispatch finds posts due for sending, delivers their payloads to
// the configured webhooks, and records the outcome of every attempt.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"postpilot/internal/domain"
	"postpilot/internal/observability"
	"postpilot/internal/payload"
	"postpilot/internal/store"
	"postpilot/internal/util"
)

const (
	// apiKeyHeader carries a webhook's API key; a static header configured
	// with the same name overrides it.
	apiKeyHeader = "X-Api-Key"

	defaultMaxResponseBody = 50000
	errorExcerptLen        = 200
)

type Store interface {
	DuePosts(ctx context.Context, now time.Time) ([]store.Post, error)
	GetPost(ctx context.Context, accountID, postID string) (store.Post, bool, error)
	GetWebhook(ctx context.Context, webhookID string) (store.Webhook, bool, error)
	WebhookHeaders(ctx context.Context, webhookID string) ([]store.Header, error)
	PostFields(ctx context.Context, postID string) ([]payload.Field, error)
	GlobalVariables(ctx context.Context, accountID string) ([]payload.Field, error)
	MarkPostSent(ctx context.Context, postID string, now time.Time) error
	MarkPostFailed(ctx context.Context, postID, message string, now time.Time) error
	InsertSendLog(ctx context.Context, in store.SendLog) error
}

type Sender interface {
	Deliver(ctx context.Context, url string, headers map[string]string, body []byte) (status int, respBody []byte, err error)
}

// Dispatcher runs the per-post delivery algorithm. Limiter and Breaker are
// optional; when set they pace and protect the outbound calls the way the
// store's webhooks expect to be treated.
type Dispatcher struct {
	Store           Store
	Sender          Sender
	Limiter         *rate.Limiter
	Breaker         *gobreaker.CircuitBreaker
	IDGen           func() string
	Now             func() time.Time
	MaxResponseBody int
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) newLogID() string {
	if d.IDGen != nil {
		return d.IDGen()
	}
	return util.NewLogID()
}

func (d *Dispatcher) maxBody() int {
	if d.MaxResponseBody > 0 {
		return d.MaxResponseBody
	}
	return defaultMaxResponseBody
}

// SendDuePosts processes every scheduled post whose slot has arrived, earliest
// first, one at a time. A post's failure never aborts the batch; failures are
// aggregated into the response.
func (d *Dispatcher) SendDuePosts(ctx context.Context) (domain.DispatchResponse, error) {
	res := domain.DispatchResponse{Errors: []string{}}
	due, err := d.Store.DuePosts(ctx, d.now())
	if err != nil {
		return res, err
	}
	for _, post := range due {
		if ok, errMsg := d.dispatchOne(ctx, post); ok {
			res.Sent++
		} else {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("post %s: %s", post.ID, errMsg))
		}
	}
	return res, nil
}

// SendPost runs the same algorithm for a single post scoped to the caller's
// account and returns the outcome synchronously.
func (d *Dispatcher) SendPost(ctx context.Context, accountID, postID string) domain.SendPostResponse {
	post, found, err := d.Store.GetPost(ctx, accountID, postID)
	if err != nil {
		return domain.SendPostResponse{Success: false, Error: "post lookup failed: " + err.Error()}
	}
	if !found {
		return domain.SendPostResponse{Success: false, Error: "Post not found"}
	}
	if ok, errMsg := d.dispatchOne(ctx, post); !ok {
		return domain.SendPostResponse{Success: false, Error: errMsg}
	}
	return domain.SendPostResponse{Success: true}
}

// dispatchOne delivers one post and persists the resulting status transition
// plus exactly one send-log row for the attempt.
func (d *Dispatcher) dispatchOne(ctx context.Context, post store.Post) (bool, string) {
	now := d.now()

	wh, found, err := d.Store.GetWebhook(ctx, post.WebhookID)
	if err != nil {
		return d.fail(ctx, post, "webhook lookup failed: "+err.Error(), "", nil, nil, now)
	}
	if !found {
		return d.fail(ctx, post, "Webhook not found", "", nil, nil, now)
	}

	fields, err := d.Store.PostFields(ctx, post.ID)
	if err != nil {
		return d.fail(ctx, post, "post fields lookup failed: "+err.Error(), "", nil, nil, now)
	}
	globals, err := d.Store.GlobalVariables(ctx, post.AccountID)
	if err != nil {
		return d.fail(ctx, post, "global variables lookup failed: "+err.Error(), "", nil, nil, now)
	}

	base := payload.Base{
		Title:       post.Title,
		Content:     post.Content,
		ImageURL:    post.ImageURL,
		ScheduledAt: post.ScheduledAt,
	}
	body, err := payload.Build(base, fields, globals, post.PayloadOverride)
	if err != nil {
		raw := ""
		if post.PayloadOverride != nil {
			raw = *post.PayloadOverride
		}
		return d.fail(ctx, post, err.Error(), raw, nil, nil, now)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	if wh.APIKey != nil && *wh.APIKey != "" {
		headers[apiKeyHeader] = *wh.APIKey
	}
	extra, err := d.Store.WebhookHeaders(ctx, wh.ID)
	if err != nil {
		return d.fail(ctx, post, "webhook headers lookup failed: "+err.Error(), string(body), nil, nil, now)
	}
	for _, h := range extra {
		if k := strings.TrimSpace(h.Key); k != "" {
			headers[k] = h.Value
		}
	}

	status, respBody, err := d.deliver(ctx, wh.URL, headers, body)
	if err != nil {
		observability.WebhookSend.WithLabelValues("error", "0").Inc()
		msg := err.Error()
		return d.fail(ctx, post, msg, string(body), nil, &msg, now)
	}

	observability.WebhookSend.WithLabelValues(sendResultLabel(status), strconv.Itoa(status)).Inc()
	trunc := truncate(string(respBody), d.maxBody())
	if status >= 200 && status < 300 {
		if err := d.Store.MarkPostSent(ctx, post.ID, d.now()); err != nil {
			d.logged(ctx, post, string(body), &status, &trunc, false, now)
			return false, "mark sent failed: " + err.Error()
		}
		observability.DispatchPosts.WithLabelValues("sent").Inc()
		d.logged(ctx, post, string(body), &status, &trunc, true, now)
		return true, ""
	}

	msg := fmt.Sprintf("%d %s: %s", status, http.StatusText(status), truncate(string(respBody), errorExcerptLen))
	return d.fail(ctx, post, msg, string(body), &status, &trunc, now)
}

func (d *Dispatcher) deliver(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	if d.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := d.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return 0, nil, err
		}
	}

	start := time.Now()
	defer func() {
		observability.WebhookLatency.Observe(time.Since(start).Seconds())
	}()

	if d.Breaker == nil {
		return d.Sender.Deliver(ctx, url, headers, body)
	}
	res, err := d.Breaker.Execute(func() (any, error) {
		status, respBody, err := d.Sender.Deliver(ctx, url, headers, body)
		if err != nil {
			return nil, err
		}
		return deliverResult{status: status, body: respBody}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	r := res.(deliverResult)
	return r.status, r.body, nil
}

// fail transitions the post to failed and appends the attempt's audit row.
func (d *Dispatcher) fail(ctx context.Context, post store.Post, msg, requestBody string, status *int, respBody *string, now time.Time) (bool, string) {
	_ = d.Store.MarkPostFailed(ctx, post.ID, msg, now)
	observability.DispatchPosts.WithLabelValues("failed").Inc()
	if respBody == nil && status == nil {
		respBody = &msg
	}
	d.logged(ctx, post, requestBody, status, respBody, false, now)
	return false, msg
}

func (d *Dispatcher) logged(ctx context.Context, post store.Post, requestBody string, status *int, respBody *string, success bool, now time.Time) bool {
	if respBody != nil {
		t := truncate(*respBody, d.maxBody())
		respBody = &t
	}
	_ = d.Store.InsertSendLog(ctx, store.SendLog{
		ID:             d.newLogID(),
		AccountID:      post.AccountID,
		PostID:         post.ID,
		SentAt:         now,
		RequestBody:    requestBody,
		ResponseStatus: status,
		ResponseBody:   respBody,
		Success:        success,
	})
	return success
}

type deliverResult struct {
	status int
	body   []byte
}

func sendResultLabel(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return "error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
