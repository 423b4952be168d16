// Package portal composes the authenticated portal panel: one session flow
// and inquiry sender per visitor, task boards per signed-in user and the
// shared scheduling widget.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/metrics"
	"github.com/halcyon-surgical/portal/internal/notify"
	"github.com/halcyon-surgical/portal/internal/scheduling"
	"github.com/halcyon-surgical/portal/internal/session"
	"github.com/halcyon-surgical/portal/internal/shared"
	"github.com/halcyon-surgical/portal/internal/taskboard"
)

// Tab is a portal panel tab.
type Tab string

const (
	TabTasks    Tab = "tasks"
	TabSchedule Tab = "schedule"
	TabContact  Tab = "contact"
)

// Valid reports whether t is a known tab.
func (t Tab) Valid() bool {
	switch t {
	case TabTasks, TabSchedule, TabContact:
		return true
	}
	return false
}

// RequiresAuth reports whether t is only shown to signed-in users.
func (t Tab) RequiresAuth() bool {
	return t == TabTasks || t == TabSchedule
}

var (
	ErrSignInRequired = errors.New("sign in required")
	ErrUnknownTab     = errors.New("unknown tab")
	ErrClosed         = errors.New("portal closed")
)

// Deps are the collaborators shared by every visitor.
type Deps struct {
	Provider  session.Provider
	Records   session.RecordWriter
	Boards    *taskboard.Registry
	Bridge    *scheduling.Bridge
	Transport notify.Transport // nil when email is not configured

	RecordTimeout time.Duration

	AfterFunc shared.AfterFunc
	Now       func() time.Time
}

// Visitor is one browser session's portal state.
type Visitor struct {
	ID     string
	Flow   *session.Flow
	Sender *notify.Sender

	mu       sync.Mutex
	lastSeen time.Time
	tab      Tab
}

// LastSeen returns when the visitor last made a request.
func (v *Visitor) LastSeen() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeen
}

// Tab returns the visitor's active tab.
func (v *Visitor) Tab() Tab {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tab
}

// User returns the visitor's signed-in identity, or nil.
func (v *Visitor) User() *domain.Identity { return v.Flow.User() }

func (v *Visitor) touch(now time.Time) {
	v.mu.Lock()
	v.lastSeen = now
	v.mu.Unlock()
}

// Touch marks v as seen now. Long-lived connections call it to keep their
// visitor from being swept.
func (c *Controller) Touch(v *Visitor) {
	v.touch(c.deps.Now())
}

func (v *Visitor) close() {
	v.Flow.Close()
	v.Sender.Close()
}

// Controller owns every visitor.
type Controller struct {
	deps Deps

	mu       sync.Mutex
	visitors map[string]*Visitor
	closed   bool
}

// New creates a Controller.
func New(deps Deps) *Controller {
	if deps.AfterFunc == nil {
		deps.AfterFunc = shared.RealAfterFunc
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Controller{deps: deps, visitors: make(map[string]*Visitor)}
}

// Bridge returns the shared scheduling widget bridge.
func (c *Controller) Bridge() *scheduling.Bridge { return c.deps.Bridge }

// Visit returns the visitor for id, creating it on first use.
func (c *Controller) Visit(id string) (*Visitor, error) {
	now := c.deps.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if v, ok := c.visitors[id]; ok {
		v.touch(now)
		return v, nil
	}

	flowOpts := []session.Option{session.WithAfterFunc(c.deps.AfterFunc)}
	if c.deps.Records != nil {
		flowOpts = append(flowOpts, session.WithRecordWriter(c.deps.Records))
	}
	if c.deps.RecordTimeout > 0 {
		flowOpts = append(flowOpts, session.WithRecordTimeout(c.deps.RecordTimeout))
	}
	v := &Visitor{
		ID:       id,
		Flow:     session.NewFlow(c.deps.Provider, flowOpts...),
		Sender:   notify.NewSender(c.deps.Transport, notify.WithAfterFunc(c.deps.AfterFunc)),
		lastSeen: now,
		tab:      TabContact,
	}
	c.visitors[id] = v
	c.setActive(len(c.visitors))
	slog.Debug("Visitor created", "visitor_id", id)
	return v, nil
}

// Len returns the number of live visitors.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visitors)
}

// Authorize checks that v may see tab.
func (c *Controller) Authorize(v *Visitor, tab Tab) error {
	if !tab.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTab, tab)
	}
	if tab.RequiresAuth() && v.User() == nil {
		return ErrSignInRequired
	}
	return nil
}

// Open switches v to tab.
func (c *Controller) Open(v *Visitor, tab Tab) error {
	if err := c.Authorize(v, tab); err != nil {
		return err
	}
	v.mu.Lock()
	v.tab = tab
	v.mu.Unlock()
	return nil
}

// Board returns the signed-in user's task board.
func (c *Controller) Board(ctx context.Context, v *Visitor) (*taskboard.Board, error) {
	user := v.User()
	if user == nil {
		return nil, ErrSignInRequired
	}
	return c.deps.Boards.Board(ctx, taskboard.KeyFor(user.UID)), nil
}

// Evict drops visitor id and stops its timers.
func (c *Controller) Evict(id string) {
	c.mu.Lock()
	v, ok := c.visitors[id]
	if ok {
		delete(c.visitors, id)
		c.setActive(len(c.visitors))
	}
	c.mu.Unlock()

	if ok {
		v.close()
		c.releaseBoards([]*Visitor{v})
	}
}

// releaseBoards drops the cached boards of gone visitors unless another live
// visitor is signed in as the same user.
func (c *Controller) releaseBoards(gone []*Visitor) {
	if c.deps.Boards == nil {
		return
	}
	c.mu.Lock()
	inUse := make(map[string]bool, len(c.visitors))
	for _, v := range c.visitors {
		if u := v.User(); u != nil {
			inUse[u.UID] = true
		}
	}
	c.mu.Unlock()

	for _, v := range gone {
		if u := v.User(); u != nil && !inUse[u.UID] {
			c.deps.Boards.Evict(taskboard.KeyFor(u.UID))
		}
	}
}

// Close tears down every visitor. Later Visit calls fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	visitors := c.visitors
	c.visitors = make(map[string]*Visitor)
	c.setActive(0)
	c.mu.Unlock()

	for _, v := range visitors {
		v.close()
	}
}

func (c *Controller) setActive(n int) {
	metrics.ActiveVisitors.Set(float64(n))
}
