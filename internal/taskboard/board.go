// Package taskboard implements the portal task board: an ordered task
// collection whose every mutation is written through to the key/value store
// before it is acknowledged.
package taskboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/metrics"
	"github.com/halcyon-surgical/portal/internal/shared"
	"github.com/halcyon-surgical/portal/internal/store"
)

// DefaultKey is the storage key of the board used when nobody is signed in.
const DefaultKey = "portal_tasks"

var (
	ErrEmptyTitle      = errors.New("task title is required")
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrInvalidStatus   = errors.New("invalid task status")
)

// KeyFor returns the storage key of uid's board.
func KeyFor(uid string) string {
	if uid == "" {
		return DefaultKey
	}
	return DefaultKey + "/" + uid
}

// PersistError reports a mutation that could not be written to storage.
// The board is left exactly as it was before the mutation.
type PersistError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s to %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Full reports whether storage rejected the write for lack of space.
func (e *PersistError) Full() bool { return shared.IsStorageFullError(e.Err) }

// Option configures a Board.
type Option func(*Board)

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(gen func() string) Option {
	return func(b *Board) { b.newID = gen }
}

// Board is one user's task collection.
type Board struct {
	mu    sync.Mutex
	kv    store.Store
	key   string
	tasks []domain.Task
	newID func() string
}

// Open loads the board stored under key. A missing, unreadable or corrupt
// value yields an empty board; Open never fails.
func Open(ctx context.Context, kv store.Store, key string, opts ...Option) *Board {
	b := &Board{
		kv:    kv,
		key:   key,
		tasks: []domain.Task{},
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tasks = load(ctx, kv, key)
	return b
}

func load(ctx context.Context, kv store.Store, key string) []domain.Task {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return []domain.Task{}
	}
	if err != nil {
		slog.Warn("Task board unreadable, starting empty", "key", key, "error", err)
		return []domain.Task{}
	}

	var stored []domain.Task
	if err := json.Unmarshal(raw, &stored); err != nil {
		slog.Warn("Task board corrupt, starting empty", "key", key, "error", err)
		return []domain.Task{}
	}

	tasks := make([]domain.Task, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, t := range stored {
		if _, dup := seen[t.ID]; dup || t.ID == "" || strings.TrimSpace(t.Title) == "" || !t.Status.Valid() {
			slog.Warn("Dropping invalid stored task", "key", key, "task_id", t.ID)
			continue
		}
		if !t.Priority.Valid() {
			t.Priority = domain.PriorityMedium
		}
		seen[t.ID] = struct{}{}
		tasks = append(tasks, t)
	}
	return tasks
}

// Key returns the storage key backing the board.
func (b *Board) Key() string { return b.key }

// Add appends a new task built from draft and returns it.
func (b *Board) Add(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	draft = draft.Normalized()
	if draft.Title == "" {
		metrics.RecordTaskMutation("add", "invalid")
		return domain.Task{}, ErrEmptyTitle
	}
	if !draft.Priority.Valid() {
		metrics.RecordTaskMutation("add", "invalid")
		return domain.Task{}, fmt.Errorf("%w: %q", ErrInvalidPriority, draft.Priority)
	}
	if !draft.Status.Valid() {
		metrics.RecordTaskMutation("add", "invalid")
		return domain.Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, draft.Status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	task := domain.Task{
		ID:          b.uniqueID(),
		Title:       draft.Title,
		Description: draft.Description,
		DueDate:     draft.DueDate,
		Priority:    draft.Priority,
		Status:      draft.Status,
	}

	next := make([]domain.Task, len(b.tasks), len(b.tasks)+1)
	copy(next, b.tasks)
	next = append(next, task)

	if err := b.commit(ctx, "add", next); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// SetStatus moves task id to status. An unknown id or an unchanged status
// succeeds without touching storage.
func (b *Board) SetStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	if !status.Valid() {
		metrics.RecordTaskMutation("set_status", "invalid")
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 || b.tasks[idx].Status == status {
		metrics.RecordTaskMutation("set_status", "noop")
		return nil
	}

	next := make([]domain.Task, len(b.tasks))
	copy(next, b.tasks)
	next[idx].Status = status

	return b.commit(ctx, "set_status", next)
}

// Remove deletes task id. Removing an unknown id is a no-op.
func (b *Board) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexOf(id)
	if idx < 0 {
		metrics.RecordTaskMutation("remove", "noop")
		return nil
	}

	next := make([]domain.Task, 0, len(b.tasks)-1)
	next = append(next, b.tasks[:idx]...)
	next = append(next, b.tasks[idx+1:]...)

	return b.commit(ctx, "remove", next)
}

// List returns a copy of the tasks in insertion order.
func (b *Board) List() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Columns returns the board split by status.
func (b *Board) Columns() Columns {
	return Partition(b.List())
}

// commit writes next to storage and only then makes it the board's state.
// An emptied board drops its key. Caller holds b.mu.
func (b *Board) commit(ctx context.Context, op string, next []domain.Task) error {
	if err := b.write(ctx, next); err != nil {
		metrics.RecordTaskMutation(op, "error")
		slog.Error("Task board write failed", "op", op, "key", b.key, "error", err)
		return &PersistError{Op: op, Key: b.key, Err: err}
	}
	b.tasks = next
	metrics.RecordTaskMutation(op, "ok")
	return nil
}

func (b *Board) write(ctx context.Context, next []domain.Task) error {
	if len(next) == 0 {
		return b.kv.Delete(ctx, b.key)
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return b.kv.Put(ctx, b.key, raw)
}

func (b *Board) indexOf(id string) int {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// uniqueID draws ids until one is unused. Caller holds b.mu.
func (b *Board) uniqueID() string {
	for {
		id := b.newID()
		if id != "" && b.indexOf(id) < 0 {
			return id
		}
	}
}
