package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"postpilot/internal/dispatch"
	"postpilot/internal/domain"
	"postpilot/internal/schedule"
	"postpilot/internal/service"
)

// accountHeader carries the account identity resolved by the external
// authentication layer.
const accountHeader = "X-Account-ID"

type API struct {
	Sched *service.SchedulingService
	Disp  *dispatch.Dispatcher
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/posts", a.handleCreatePost).Methods(http.MethodPost)
	r.HandleFunc("/v1/posts/{id}/send", a.handleSendPost).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules/{id}/slots", a.handleGenerateSlots).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}/preview", a.handlePreviewSlots).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}/next-slot", a.handleNextSlot).Methods(http.MethodGet)
	r.HandleFunc("/v1/schedules/{id}/apply", a.handleApplySchedule).Methods(http.MethodPost)
	r.HandleFunc("/v1/schedules/{id}/reschedule", a.handleReschedule).Methods(http.MethodPost)
	r.HandleFunc("/v1/dispatch/run", a.handleDispatchRun).Methods(http.MethodPost)
}

func accountID(r *http.Request) string {
	return r.Header.Get(accountHeader)
}

func (a *API) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	var req domain.CreatePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := a.Sched.CreatePost(r.Context(), account, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOverride):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrScheduleNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			slog.Error("create post failed", "err", err, "account_id", account)
			http.Error(w, ErrDependency, http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleSendPost(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	outcome := a.Disp.SendPost(r.Context(), account, id)
	status := http.StatusOK
	if !outcome.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, outcome)
}

func (a *API) handleGenerateSlots(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	count := queryInt(r, "count", 10)
	var from time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := schedule.ParseSlot(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		from = t
	}

	slots, err := a.Sched.GenerateSlots(r.Context(), account, id, count, from)
	if err != nil {
		a.scheduleError(w, err, "generate slots", id)
		return
	}
	writeJSON(w, http.StatusOK, domain.SlotListResponse{Slots: slots})
}

func (a *API) handlePreviewSlots(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	days := queryInt(r, "days", schedule.PreviewDays)

	slots, err := a.Sched.PreviewSlots(r.Context(), account, id, days)
	if err != nil {
		a.scheduleError(w, err, "preview slots", id)
		return
	}
	writeJSON(w, http.StatusOK, domain.SlotListResponse{Slots: slots})
}

func (a *API) handleNextSlot(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	exclude := r.URL.Query().Get("exclude_post_id")

	slot, ok, err := a.Sched.NextFreeSlot(r.Context(), account, id, exclude)
	if err != nil {
		a.scheduleError(w, err, "next free slot", id)
		return
	}
	writeJSON(w, http.StatusOK, domain.NextSlotResponse{Slot: slot, Available: ok})
}

func (a *API) handleApplySchedule(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]
	var req domain.ApplyScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	applied, err := a.Sched.ApplySchedule(r.Context(), account, id, req.PostIDs)
	if err != nil {
		var insufficient *schedule.InsufficientSlotsError
		switch {
		case errors.As(err, &insufficient):
			http.Error(w, insufficient.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrPostNotOwned):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			a.scheduleError(w, err, "apply schedule", id)
		}
		return
	}
	writeJSON(w, http.StatusOK, domain.ApplyScheduleResponse{Applied: applied})
}

func (a *API) handleReschedule(w http.ResponseWriter, r *http.Request) {
	account := accountID(r)
	if account == "" {
		http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
		return
	}
	id := mux.Vars(r)["id"]

	rescheduled, unscheduled, err := a.Sched.Reschedule(r.Context(), account, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoRules), errors.Is(err, service.ErrNoPosts):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			a.scheduleError(w, err, "reschedule", id)
		}
		return
	}
	writeJSON(w, http.StatusOK, domain.RescheduleResponse{Rescheduled: rescheduled, Unscheduled: unscheduled})
}

// handleDispatchRun is the time-triggered entry point: an external trigger
// POSTs here on a cadence and the whole due-post batch runs synchronously.
func (a *API) handleDispatchRun(w http.ResponseWriter, r *http.Request) {
	res, err := a.Disp.SendDuePosts(r.Context())
	if err != nil {
		slog.Error("dispatch run failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) scheduleError(w http.ResponseWriter, err error, op, scheduleID string) {
	if errors.Is(err, service.ErrScheduleNotFound) {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	slog.Error(op+" failed", "err", err, "schedule_id", scheduleID)
	http.Error(w, ErrDependency, http.StatusBadGateway)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
