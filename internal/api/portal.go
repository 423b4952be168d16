package api

import (
	"net/http"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/portal"
)

var tabs = []portal.Tab{portal.TabTasks, portal.TabSchedule, portal.TabContact}

// TabInfo describes one panel tab for the current visitor.
type TabInfo struct {
	Name   portal.Tab `json:"name"`
	Locked bool       `json:"locked"`
}

// PortalResponse is the panel state shown next to the auth form.
type PortalResponse struct {
	Tab      portal.Tab       `json:"tab"`
	Tabs     []TabInfo        `json:"tabs"`
	User     *domain.Identity `json:"user,omitempty"`
	Greeting string           `json:"greeting,omitempty"`
}

func portalResponse(v *portal.Visitor) PortalResponse {
	user := v.User()
	resp := PortalResponse{Tab: v.Tab(), User: user}
	if user != nil {
		resp.Greeting = "Welcome, " + user.Label()
	}
	for _, t := range tabs {
		resp.Tabs = append(resp.Tabs, TabInfo{Name: t, Locked: t.RequiresAuth() && user == nil})
	}
	return resp
}

type tabRequest struct {
	Tab portal.Tab `json:"tab"`
}

// PortalState returns the visitor's active tab and which tabs are locked.
func (h *Handler) PortalState(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, portalResponse(v))
}

// OpenTab switches the visitor's active tab.
func (h *Handler) OpenTab(w http.ResponseWriter, r *http.Request) {
	v, ok := h.visitor(w, r)
	if !ok {
		return
	}
	var req tabRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.ctrl.Open(v, req.Tab); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, portalResponse(v))
}
