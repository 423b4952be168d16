package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/taskboard"
)

// BoardResponse is the full board, flat and grouped by status.
type BoardResponse struct {
	Tasks   []domain.Task     `json:"tasks"`
	Columns taskboard.Columns `json:"columns"`
}

type statusRequest struct {
	Status domain.TaskStatus `json:"status"`
}

func boardResponse(b *taskboard.Board) BoardResponse {
	tasks := b.List()
	return BoardResponse{Tasks: tasks, Columns: taskboard.Partition(tasks)}
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) (*taskboard.Board, bool) {
	v, ok := h.signedIn(w, r, portal.TabTasks)
	if !ok {
		return nil, false
	}
	b, err := h.ctrl.Board(r.Context(), v)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return b, true
}

// ListTasks returns the signed-in user's board.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	b, ok := h.board(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, boardResponse(b))
}

// AddTask creates a task from a draft.
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	b, ok := h.board(w, r)
	if !ok {
		return
	}
	var draft domain.TaskDraft
	if err := decode(r, &draft); err != nil {
		WriteError(w, err)
		return
	}
	task, err := b.Add(r.Context(), draft)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusCreated, task)
}

// SetTaskStatus moves a task to another column. Unknown ids are ignored.
func (h *Handler) SetTaskStatus(w http.ResponseWriter, r *http.Request) {
	b, ok := h.board(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := b.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status); err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, boardResponse(b))
}

// RemoveTask deletes a task. Unknown ids are ignored.
func (h *Handler) RemoveTask(w http.ResponseWriter, r *http.Request) {
	b, ok := h.board(w, r)
	if !ok {
		return
	}
	if err := b.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
