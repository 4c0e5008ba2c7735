package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postpilot_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	WebhookSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postpilot_webhook_send_total", Help: "Webhook delivery outcomes"},
		[]string{"result", "http_status"},
	)
	WebhookLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "postpilot_webhook_send_latency_seconds", Help: "Webhook delivery latency"},
	)
	DispatchPosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postpilot_dispatch_posts_total", Help: "Posts processed by the dispatch engine"},
		[]string{"outcome"},
	)
	SlotAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "postpilot_slot_allocations_total", Help: "Free-slot allocation results"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, WebhookSend, WebhookLatency, DispatchPosts, SlotAllocations)
}
