// Package api provides HTTP handlers for the portal API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/halcyon-surgical/portal/internal/identity"
	"github.com/halcyon-surgical/portal/internal/notify"
	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/scheduling"
	"github.com/halcyon-surgical/portal/internal/session"
	"github.com/halcyon-surgical/portal/internal/store"
	"github.com/halcyon-surgical/portal/internal/taskboard"
)

const maxBodyBytes = 64 << 10

// Features are the feature gates reported to the frontend.
type Features struct {
	Identity  bool `json:"identity"`
	Federated bool `json:"federated"`
	Email     bool `json:"email"`
	Calendar  bool `json:"calendar"`
}

// Handler serves the portal API.
type Handler struct {
	ctrl     *portal.Controller
	kv       store.Store
	features Features
	streams  *StreamManager
	origins  []string
	isDev    bool
	now      func() time.Time
	ping     time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithOrigins restricts WebSocket origins. Development mode accepts any.
func WithOrigins(origins []string, isDev bool) Option {
	return func(h *Handler) {
		h.origins = origins
		h.isDev = isDev
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithPingInterval sets how often event streams ping the browser. Each
// answered ping counts as visitor activity.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) { h.ping = d }
}

// NewHandler creates a Handler.
func NewHandler(ctrl *portal.Controller, kv store.Store, features Features, opts ...Option) *Handler {
	h := &Handler{
		ctrl:     ctrl,
		kv:       kv,
		features: features,
		streams:  NewStreamManager(),
		origins:  []string{"*"},
		now:      time.Now,
		ping:     defaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Streams returns the manager of open auth event streams.
func (h *Handler) Streams() *StreamManager { return h.streams }

// RegisterRoutes registers every portal route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/state", h.AuthState)
			r.Post("/mode", h.SetMode)
			r.Post("/login", h.Login)
			r.Post("/signup", h.Signup)
			r.Post("/federated", h.Federated)
			r.Post("/reset", h.ResetPassword)
			r.Post("/restore", h.Restore)
			r.Post("/logout", h.Logout)
			r.Get("/events", h.Events)
		})

		r.Get("/portal", h.PortalState)
		r.Post("/portal/tab", h.OpenTab)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.AddTask)
			r.Patch("/{id}/status", h.SetTaskStatus)
			r.Delete("/{id}", h.RemoveTask)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", h.GetSchedule)
			r.Post("/reload", h.ReloadSchedule)
			r.Post("/slot", h.SelectSlot)
			r.Get("/script", h.WidgetScript)
		})

		r.Post("/inquiries", h.SubmitInquiry)
		r.Get("/inquiries/status", h.InquiryStatus)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorBody is the JSON shape of a classified failure.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

// WriteError maps err to a status code and writes it as JSON.
func WriteError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	if status >= 500 {
		slog.Error("Request failed", "status", status, "kind", body.Kind, "error", err)
	}
	JSON(w, status, body)
}

var kindStatus = map[session.Kind]int{
	session.KindValidation:        http.StatusBadRequest,
	session.KindPasswordMismatch:  http.StatusBadRequest,
	session.KindMalformedEmail:    http.StatusBadRequest,
	session.KindCancelled:         http.StatusBadRequest,
	session.KindNotFound:          http.StatusNotFound,
	session.KindInvalidCredential: http.StatusUnauthorized,
	session.KindRateLimited:       http.StatusTooManyRequests,
	session.KindAlreadyExists:     http.StatusConflict,
	session.KindBusy:              http.StatusConflict,
	session.KindNotConfigured:     http.StatusServiceUnavailable,
	session.KindNetwork:           http.StatusBadGateway,
	session.KindUnknown:           http.StatusInternalServerError,
}

func classifyError(err error) (int, errorBody) {
	var (
		se *session.Error
		pe *taskboard.PersistError
		ve *notify.ValidationError
		sd *notify.SendError
	)
	switch {
	case errors.As(err, &se):
		status, ok := kindStatus[se.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, errorBody{Error: session.Message(se.Kind), Kind: string(se.Kind)}

	case errors.Is(err, portal.ErrSignInRequired):
		return http.StatusUnauthorized, errorBody{Error: "Please sign in to continue.", Kind: "sign_in_required"}
	case errors.Is(err, portal.ErrUnknownTab):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"}
	case errors.Is(err, portal.ErrClosed), errors.Is(err, session.ErrClosed), errors.Is(err, notify.ErrClosed):
		return http.StatusServiceUnavailable, errorBody{Error: "The portal is shutting down.", Kind: "unavailable"}

	case errors.As(err, &pe):
		msg := "Could not save your tasks. Please try again."
		if pe.Full() {
			msg = "Task storage is full."
		}
		return http.StatusInsufficientStorage, errorBody{Error: msg, Kind: "storage"}
	case errors.Is(err, taskboard.ErrEmptyTitle),
		errors.Is(err, taskboard.ErrInvalidPriority),
		errors.Is(err, taskboard.ErrInvalidStatus):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"}

	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation", Field: ve.Field}
	case errors.Is(err, notify.ErrBusy):
		return http.StatusConflict, errorBody{Error: err.Error(), Kind: "busy"}
	case errors.Is(err, notify.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorBody{Error: notify.ErrorText(err), Kind: "not_configured"}
	case errors.As(err, &sd):
		return http.StatusBadGateway, errorBody{Error: notify.ErrorText(err), Kind: "network"}

	case errors.Is(err, scheduling.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorBody{Error: "Scheduling is not available right now.", Kind: "not_configured"}
	case errors.Is(err, scheduling.ErrSlotOutsideWindow), errors.Is(err, scheduling.ErrInvalidSlot):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"}

	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal error", Kind: "unknown"}
}

var errBadRequest = errors.New("invalid request body")

// decode reads a JSON body into v.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// visitor returns the calling visitor, writing an error response on failure.
func (h *Handler) visitor(w http.ResponseWriter, r *http.Request) (*portal.Visitor, bool) {
	v, err := h.ctrl.Visit(identity.VisitorIDFromContext(r.Context()))
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return v, true
}

// signedIn returns the calling visitor if it may open tab.
func (h *Handler) signedIn(w http.ResponseWriter, r *http.Request, tab portal.Tab) (*portal.Visitor, bool) {
	v, ok := h.visitor(w, r)
	if !ok {
		return nil, false
	}
	if err := h.ctrl.Authorize(v, tab); err != nil {
		WriteError(w, err)
		return nil, false
	}
	return v, true
}

// Health reports database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.kv.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// GetConfig returns the feature gates for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.features)
}
