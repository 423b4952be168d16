package api

import (
	"log/slog"
	"net/http"

	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/scheduling"
)

const widgetLoadError = "Unable to load the scheduling widget. Please try again."

// ScheduleResponse is the scheduling tab state. Widget is only set when the
// script is ready.
type ScheduleResponse struct {
	State  scheduling.State   `json:"state"`
	Widget *scheduling.Widget `json:"widget,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (h *Handler) writeSchedule(w http.ResponseWriter, r *http.Request, bridge *scheduling.Bridge) {
	if !bridge.Configured() {
		JSON(w, http.StatusOK, ScheduleResponse{State: scheduling.StateNotConfigured})
		return
	}
	widget, err := bridge.Widget(r.Context(), h.now())
	if err != nil {
		slog.Warn("Scheduling widget unavailable", "error", err)
		JSON(w, http.StatusBadGateway, ScheduleResponse{State: bridge.State(), Error: widgetLoadError})
		return
	}
	JSON(w, http.StatusOK, ScheduleResponse{State: bridge.State(), Widget: widget})
}

// GetSchedule loads the widget script on first use and returns the widget
// payload.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.signedIn(w, r, portal.TabSchedule); !ok {
		return
	}
	h.writeSchedule(w, r, h.ctrl.Bridge())
}

// ReloadSchedule retries a failed script load.
func (h *Handler) ReloadSchedule(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.signedIn(w, r, portal.TabSchedule); !ok {
		return
	}
	bridge := h.ctrl.Bridge()
	if bridge.Configured() {
		// The result is reported by writeSchedule.
		_ = bridge.Reload(r.Context())
	}
	h.writeSchedule(w, r, bridge)
}

// SelectSlot records a slot picked in the widget.
func (h *Handler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	v, ok := h.signedIn(w, r, portal.TabSchedule)
	if !ok {
		return
	}
	var slot scheduling.Slot
	if err := decode(r, &slot); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.ctrl.Bridge().SelectSlot(r.Context(), v.User(), slot); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// WidgetScript serves the cached widget script.
func (h *Handler) WidgetScript(w http.ResponseWriter, r *http.Request) {
	script, ok := h.ctrl.Bridge().Script()
	if !ok {
		Error(w, http.StatusNotFound, "widget script not loaded")
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(script)
}
