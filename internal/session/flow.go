// Package session implements the portal's authentication flow: the form
// modes, the submit state machine and auth-state notifications for one
// visitor.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/metrics"
	"github.com/halcyon-surgical/portal/internal/shared"
)

// Mode selects which auth form is active.
type Mode string

const (
	ModeLogin          Mode = "login"
	ModeSignup         Mode = "signup"
	ModeForgotPassword Mode = "forgot_password"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeLogin, ModeSignup, ModeForgotPassword:
		return true
	}
	return false
}

// State is the submit state of a flow.
type State string

const (
	StateIdle          State = "idle"
	StateSubmitting    State = "submitting"
	StateAuthenticated State = "authenticated"
	StateFailed        State = "failed"
)

const (
	// ResetRevertDelay is how long the reset confirmation stays up before the
	// flow returns to the login form.
	ResetRevertDelay = 3 * time.Second

	defaultRecordTimeout = 10 * time.Second

	resetNotice = "Password reset email sent. Check your inbox."
)

// FederatedCredential is what the browser hands back from a federated
// provider's popup or redirect.
type FederatedCredential struct {
	ProviderID  string `json:"providerId"`
	IDToken     string `json:"idToken,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	AuthCode    string `json:"code,omitempty"`
	RequestURI  string `json:"requestUri,omitempty"`
	Dismissed   bool   `json:"dismissed,omitempty"`
}

// Provider is the identity service behind a flow. Failures should be
// *Error values; anything else is classified with KindOf.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Identity, error)
	SignUpWithPassword(ctx context.Context, email, password, displayName string) (*domain.Identity, error)
	SignInWithFederated(ctx context.Context, cred FederatedCredential) (*domain.Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	SignOut(ctx context.Context, user *domain.Identity) error
	Restore(ctx context.Context, idToken string) (*domain.Identity, error)
}

// RecordWriter stores the companion user record created at sign-up.
type RecordWriter interface {
	WriteUser(ctx context.Context, rec domain.UserRecord) error
}

// Snapshot is a point-in-time view of a flow.
type Snapshot struct {
	State       State            `json:"state"`
	Mode        Mode             `json:"mode"`
	User        *domain.Identity `json:"user,omitempty"`
	Email       string           `json:"email"`
	DisplayName string           `json:"displayName,omitempty"`
	ErrorKind   Kind             `json:"errorKind,omitempty"`
	Error       string           `json:"error,omitempty"`
	Notice      string           `json:"notice,omitempty"`
}

// Authenticated reports whether the snapshot holds a signed-in user.
func (s Snapshot) Authenticated() bool { return s.User != nil }

// Option configures a Flow.
type Option func(*Flow)

// WithAfterFunc replaces the timer used for the reset auto-revert.
func WithAfterFunc(af shared.AfterFunc) Option {
	return func(f *Flow) { f.afterFunc = af }
}

// WithRecordWriter sets where sign-up companion records are written.
func WithRecordWriter(w RecordWriter) Option {
	return func(f *Flow) { f.records = w }
}

// WithRecordTimeout bounds each companion record write.
func WithRecordTimeout(d time.Duration) Option {
	return func(f *Flow) { f.recordTimeout = d }
}

// Flow is one visitor's authentication state machine. Password fields are
// never retained; only the entered email and display name survive a submit.
type Flow struct {
	provider      Provider
	records       RecordWriter
	afterFunc     shared.AfterFunc
	recordTimeout time.Duration

	mu          sync.Mutex
	state       State
	mode        Mode
	user        *domain.Identity
	email       string
	displayName string
	err         *Error
	notice      string
	revert      shared.Timer
	revertGen   int
	subs        map[int]chan Snapshot
	nextSub     int
	closed      bool

	background sync.WaitGroup
}

// NewFlow creates an idle flow in login mode.
func NewFlow(provider Provider, opts ...Option) *Flow {
	f := &Flow{
		provider:      provider,
		afterFunc:     shared.RealAfterFunc,
		recordTimeout: defaultRecordTimeout,
		state:         StateIdle,
		mode:          ModeLogin,
		subs:          make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Snapshot returns the current state of the flow.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// User returns the signed-in identity, or nil.
func (f *Flow) User() *domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	u := *f.user
	return &u
}

// SetMode switches the active form. Every field and message is cleared.
func (f *Flow) SetMode(mode Mode) error {
	if !mode.Valid() {
		return &Error{Kind: KindValidation, Op: "set_mode", Err: fmt.Errorf("%w: %q", ErrUnknownMode, mode)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.state == StateSubmitting {
		return &Error{Kind: KindBusy, Op: "set_mode"}
	}

	f.stopRevertLocked()
	f.mode = mode
	f.clearFormLocked()
	if f.state == StateFailed {
		f.state = StateIdle
	}
	f.publishLocked()
	return nil
}

// SignInWithPassword authenticates with email and password.
func (f *Flow) SignInWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	const op = "sign_in"
	email = strings.TrimSpace(email)

	if err := f.begin(op, true, func() *Error {
		f.email = email
		if email == "" {
			return &Error{Kind: KindValidation, Op: op, Err: ErrEmailRequired}
		}
		if password == "" {
			return &Error{Kind: KindValidation, Op: op, Err: ErrPasswordRequired}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	user, err := f.provider.SignInWithPassword(ctx, email, password)
	return f.finishAuth(op, user, err)
}

// SignUpWithPassword creates an account. A password mismatch is reported
// before anything else is checked and never reaches the provider.
func (f *Flow) SignUpWithPassword(ctx context.Context, email, password, confirm, displayName string) (*domain.Identity, error) {
	const op = "sign_up"
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)

	if err := f.begin(op, true, func() *Error {
		f.email = email
		f.displayName = displayName
		if password != confirm {
			return &Error{Kind: KindPasswordMismatch, Op: op}
		}
		if email == "" {
			return &Error{Kind: KindValidation, Op: op, Err: ErrEmailRequired}
		}
		if password == "" {
			return &Error{Kind: KindValidation, Op: op, Err: ErrPasswordRequired}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	user, err := f.provider.SignUpWithPassword(ctx, email, password, displayName)
	if err == nil && user != nil {
		if user.DisplayName == "" {
			user.DisplayName = displayName
		}
		f.writeRecord(*user)
	}
	return f.finishAuth(op, user, err)
}

// SignInWithFederated completes a federated sign-in. A dismissed provider
// window fails with KindCancelled without calling the provider.
func (f *Flow) SignInWithFederated(ctx context.Context, cred FederatedCredential) (*domain.Identity, error) {
	const op = "sign_in_federated"

	if err := f.begin(op, true, func() *Error {
		if cred.Dismissed {
			return &Error{Kind: KindCancelled, Op: op}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	user, err := f.provider.SignInWithFederated(ctx, cred)
	return f.finishAuth(op, user, err)
}

// RequestPasswordReset sends a reset email. On success a notice is shown and
// the flow returns to the login form after ResetRevertDelay.
func (f *Flow) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "password_reset"
	email = strings.TrimSpace(email)

	if err := f.begin(op, false, func() *Error {
		f.email = email
		if email == "" {
			return &Error{Kind: KindValidation, Op: op, Err: ErrEmailRequired}
		}
		return nil
	}); err != nil {
		return err
	}

	err := f.provider.SendPasswordReset(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err != nil {
		e := classify(op, err)
		f.failLocked(op, e)
		return e
	}

	metrics.RecordAuth(op, "ok")
	f.state = StateIdle
	if f.user != nil {
		f.state = StateAuthenticated
	}
	f.notice = resetNotice
	f.stopRevertLocked()
	f.revertGen++
	gen := f.revertGen
	f.revert = f.afterFunc(ResetRevertDelay, func() { f.revertReset(gen) })
	f.publishLocked()
	return nil
}

func (f *Flow) revertReset(gen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.revert == nil || f.revertGen != gen {
		return
	}
	f.revert = nil
	if f.state == StateSubmitting {
		return
	}
	f.mode = ModeLogin
	f.notice = ""
	f.publishLocked()
}

// Restore re-establishes a session from an ID token issued earlier, the way
// a reloaded page picks up its previous sign-in. A failed restore leaves the
// flow idle and shows no error.
func (f *Flow) Restore(ctx context.Context, idToken string) (*domain.Identity, error) {
	const op = "restore"
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, &Error{Kind: KindValidation, Op: op, Err: ErrTokenRequired}
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return nil, &Error{Kind: KindBusy, Op: op}
	}
	if f.user != nil {
		u := *f.user
		f.mu.Unlock()
		return &u, nil
	}
	prev := f.state
	f.state = StateSubmitting
	f.publishLocked()
	f.mu.Unlock()

	user, err := f.provider.Restore(ctx, idToken)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if err != nil {
		e := classify(op, err)
		metrics.RecordAuth(op, string(e.Kind))
		f.state = prev
		f.publishLocked()
		return nil, e
	}
	metrics.RecordAuth(op, "ok")
	f.authenticateLocked(user)
	u := *f.user
	return &u, nil
}

// SignOut ends the session. It always succeeds, including when nobody is
// signed in; revoking the provider session is best-effort.
func (f *Flow) SignOut(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	user := f.user
	f.user = nil
	if f.state != StateSubmitting {
		f.state = StateIdle
	}
	if user != nil {
		f.clearFormLocked()
		f.publishLocked()
	}
	f.mu.Unlock()

	if user == nil {
		return nil
	}
	metrics.RecordAuth("sign_out", "ok")
	if err := f.provider.SignOut(ctx, user); err != nil {
		slog.Warn("Provider sign-out failed", "user_id", user.UID, "error", err)
	}
	return nil
}

// Subscribe returns a channel that receives the current snapshot
// immediately and again after every change. Slow readers only see the most
// recent snapshot. The returned func unsubscribes and closes the channel.
func (f *Flow) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
}

// Close stops timers, closes subscriber channels and waits for pending
// companion record writes.
func (f *Flow) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.stopRevertLocked()
		for id, ch := range f.subs {
			delete(f.subs, id)
			close(ch)
		}
	}
	f.mu.Unlock()

	f.background.Wait()
}

// begin runs the local checks for op and moves the flow to submitting.
// Checks that fail leave the flow in failed with the error shown.
func (f *Flow) begin(op string, refuseIfSignedIn bool, check func() *Error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if f.state == StateSubmitting {
		metrics.RecordAuth(op, string(KindBusy))
		return &Error{Kind: KindBusy, Op: op}
	}
	if refuseIfSignedIn && f.user != nil {
		return &Error{Kind: KindValidation, Op: op, Err: ErrAlreadySignedIn}
	}

	f.err = nil
	f.notice = ""
	f.stopRevertLocked()

	if e := check(); e != nil {
		f.failLocked(op, e)
		return e
	}

	f.state = StateSubmitting
	f.publishLocked()
	return nil
}

func (f *Flow) finishAuth(op string, user *domain.Identity, err error) (*domain.Identity, error) {
	if err == nil && user == nil {
		err = &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("provider returned no identity")}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if err != nil {
		e := classify(op, err)
		f.failLocked(op, e)
		return nil, e
	}

	metrics.RecordAuth(op, "ok")
	f.authenticateLocked(user)
	u := *f.user
	return &u, nil
}

func (f *Flow) authenticateLocked(user *domain.Identity) {
	u := *user
	f.user = &u
	f.state = StateAuthenticated
	f.err = nil
	f.email = u.Email
	f.displayName = ""
	f.publishLocked()
}

func (f *Flow) failLocked(op string, e *Error) {
	metrics.RecordAuth(op, string(e.Kind))
	f.err = e
	f.state = StateFailed
	if f.user != nil {
		f.state = StateAuthenticated
	}
	f.publishLocked()
}

func (f *Flow) writeRecord(user domain.Identity) {
	if f.records == nil {
		return
	}
	rec := domain.UserRecord{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Provider:    user.Provider,
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.background.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.recordTimeout)
		defer cancel()
		if err := f.records.WriteUser(ctx, rec); err != nil {
			slog.Warn("Failed to write user record", "user_id", rec.UID, "error", err)
		}
	}()
}

func (f *Flow) clearFormLocked() {
	f.email = ""
	f.displayName = ""
	f.err = nil
	f.notice = ""
}

func (f *Flow) stopRevertLocked() {
	if f.revert != nil {
		f.revert.Stop()
		f.revert = nil
	}
}

func (f *Flow) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       f.state,
		Mode:        f.mode,
		Email:       f.email,
		DisplayName: f.displayName,
		Notice:      f.notice,
	}
	if f.user != nil {
		u := *f.user
		s.User = &u
	}
	if f.err != nil {
		s.ErrorKind = f.err.Kind
		s.Error = Message(f.err.Kind)
	}
	return s
}

// publishLocked hands the current snapshot to every subscriber, replacing
// any snapshot they have not read yet.
func (f *Flow) publishLocked() {
	if len(f.subs) == 0 {
		return
	}
	snap := f.snapshotLocked()
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
