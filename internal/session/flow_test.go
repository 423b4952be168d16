package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/testutil"
)

// authAttempts reads portal_auth_attempts_total{op,outcome} from the default registry.
func authAttempts(t *testing.T, op, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "portal_auth_attempts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["op"] == op && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   map[string]int
	user    *domain.Identity
	err     error
	signOut error
	gate    chan struct{} // when set, sign-in blocks until closed
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls: make(map[string]int),
		user:  &domain.Identity{UID: "u1", Email: "surgeon@example.com", Provider: "password"},
	}
}

func (p *fakeProvider) record(op string) (*domain.Identity, error) {
	p.mu.Lock()
	p.calls[op]++
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	u := *p.user
	return &u, nil
}

func (p *fakeProvider) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakeProvider) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func (p *fakeProvider) SignInWithPassword(context.Context, string, string) (*domain.Identity, error) {
	return p.record("sign_in")
}

func (p *fakeProvider) SignUpWithPassword(_ context.Context, email, _, displayName string) (*domain.Identity, error) {
	u, err := p.record("sign_up")
	if u != nil {
		u.Email = email
	}
	return u, err
}

func (p *fakeProvider) SignInWithFederated(context.Context, FederatedCredential) (*domain.Identity, error) {
	return p.record("federated")
}

func (p *fakeProvider) SendPasswordReset(context.Context, string) error {
	_, err := p.record("reset")
	return err
}

func (p *fakeProvider) SignOut(context.Context, *domain.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["sign_out"]++
	return p.signOut
}

func (p *fakeProvider) Restore(context.Context, string) (*domain.Identity, error) {
	return p.record("restore")
}

type fakeRecords struct {
	mu      sync.Mutex
	written []domain.UserRecord
	err     error
}

func (r *fakeRecords) WriteUser(_ context.Context, rec domain.UserRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, rec)
	return r.err
}

func TestSignUp_PasswordMismatchSkipsProvider(t *testing.T) {
	p := newFakeProvider()
	f := NewFlow(p)
	defer f.Close()

	_, err := f.SignUpWithPassword(context.Background(), "a@example.com", "secret1", "secret2", "Dr. A")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if n := p.total(); n != 0 {
		t.Errorf("expected 0 provider calls, got %d", n)
	}

	snap := f.Snapshot()
	if snap.State != StateFailed || snap.Error != Message(KindPasswordMismatch) {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.Email != "a@example.com" || snap.DisplayName != "Dr. A" {
		t.Errorf("expected entered fields kept, got %+v", snap)
	}
}

func TestSignUp_MismatchCheckedBeforeRequiredFields(t *testing.T) {
	f := NewFlow(newFakeProvider())
	defer f.Close()

	_, err := f.SignUpWithPassword(context.Background(), "", "a", "b", "")
	if KindOf(err) != KindPasswordMismatch {
		t.Fatalf("expected password_mismatch, got %v", err)
	}
}

func TestSignOut_WithoutSessionStaysIdle(t *testing.T) {
	p := newFakeProvider()
	f := NewFlow(p)
	defer f.Close()

	if err := f.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if s := f.Snapshot().State; s != StateIdle {
		t.Errorf("expected idle, got %s", s)
	}
	if n := p.count("sign_out"); n != 0 {
		t.Errorf("expected no provider sign-out, got %d", n)
	}
}

func TestSignIn_SuccessThenSignOut(t *testing.T) {
	p := newFakeProvider()
	p.signOut = errors.New("revoke failed")
	f := NewFlow(p)
	defer f.Close()

	user, err := f.SignInWithPassword(context.Background(), " surgeon@example.com ", "pw")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	if user.UID != "u1" || f.Snapshot().State != StateAuthenticated {
		t.Fatalf("expected authenticated u1, got %+v / %+v", user, f.Snapshot())
	}

	if _, err := f.SignInWithPassword(context.Background(), "x@example.com", "pw"); !errors.Is(err, ErrAlreadySignedIn) {
		t.Errorf("expected ErrAlreadySignedIn, got %v", err)
	}

	if err := f.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut should succeed despite provider error: %v", err)
	}
	snap := f.Snapshot()
	if snap.State != StateIdle || snap.User != nil {
		t.Errorf("expected idle without user, got %+v", snap)
	}
}

func TestSignIn_ValidationNeverReachesProvider(t *testing.T) {
	p := newFakeProvider()
	f := NewFlow(p)
	defer f.Close()

	_, err := f.SignInWithPassword(context.Background(), "a@example.com", "")
	if !errors.Is(err, ErrPasswordRequired) || KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if p.total() != 0 {
		t.Error("provider was called")
	}
}

func TestSignIn_ProviderFailureIsClassified(t *testing.T) {
	p := newFakeProvider()
	p.err = &Error{Kind: KindInvalidCredential, Err: errors.New("INVALID_PASSWORD")}
	f := NewFlow(p)
	defer f.Close()

	_, err := f.SignInWithPassword(context.Background(), "a@example.com", "wrong")
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindInvalidCredential || se.Op != "sign_in" {
		t.Fatalf("expected invalid_credential from sign_in, got %v", err)
	}
	snap := f.Snapshot()
	if snap.State != StateFailed || snap.Email != "a@example.com" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	p.err = nil
	if _, err := f.SignInWithPassword(context.Background(), "a@example.com", "right"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.Snapshot().Error != "" {
		t.Error("expected error cleared after retry")
	}
}

func TestSignIn_FailureCountedUnderFlowOp(t *testing.T) {
	p := newFakeProvider()
	p.err = &Error{Kind: KindRateLimited, Op: "verify_password", Err: errors.New("TOO_MANY_ATTEMPTS_TRY_LATER")}
	f := NewFlow(p)
	defer f.Close()

	flowBefore := authAttempts(t, "sign_in", string(KindRateLimited))
	providerBefore := authAttempts(t, "verify_password", string(KindRateLimited))

	if _, err := f.SignInWithPassword(context.Background(), "a@example.com", "pw"); err == nil {
		t.Fatal("expected sign-in to fail")
	}

	if got := authAttempts(t, "sign_in", string(KindRateLimited)) - flowBefore; got != 1 {
		t.Errorf("expected 1 sign_in failure counted, got %v", got)
	}
	if got := authAttempts(t, "verify_password", string(KindRateLimited)) - providerBefore; got != 0 {
		t.Errorf("expected nothing counted under the provider op, got %v", got)
	}
}

func TestFederated_DismissedIsCancelled(t *testing.T) {
	p := newFakeProvider()
	f := NewFlow(p)
	defer f.Close()

	_, err := f.SignInWithFederated(context.Background(), FederatedCredential{ProviderID: "google.com", Dismissed: true})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if p.count("federated") != 0 {
		t.Error("provider was called for a dismissed popup")
	}
	if f.Snapshot().Error != Message(KindCancelled) {
		t.Errorf("expected cancelled message, got %q", f.Snapshot().Error)
	}
}

func TestSetMode_ClearsFieldsAndMessages(t *testing.T) {
	f := NewFlow(newFakeProvider())
	defer f.Close()

	_, _ = f.SignUpWithPassword(context.Background(), "a@example.com", "x", "y", "Dr. A")
	if err := f.SetMode(ModeLogin); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	snap := f.Snapshot()
	if snap.Mode != ModeLogin || snap.Email != "" || snap.DisplayName != "" || snap.Error != "" || snap.State != StateIdle {
		t.Errorf("expected cleared form in login mode, got %+v", snap)
	}
	if err := f.SetMode("register"); KindOf(err) != KindValidation {
		t.Errorf("expected validation error for unknown mode, got %v", err)
	}
}

func TestBusyRejectsSecondSubmit(t *testing.T) {
	p := newFakeProvider()
	p.gate = make(chan struct{})
	f := NewFlow(p)
	defer f.Close()

	done := make(chan error, 1)
	go func() {
		_, err := f.SignInWithPassword(context.Background(), "a@example.com", "pw")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.Snapshot().State != StateSubmitting {
		if time.Now().After(deadline) {
			t.Fatal("flow never entered submitting")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.SignInWithPassword(context.Background(), "a@example.com", "pw"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := f.SetMode(ModeSignup); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from SetMode, got %v", err)
	}

	close(p.gate)
	if err := <-done; err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	if n := p.count("sign_in"); n != 1 {
		t.Errorf("expected 1 provider call, got %d", n)
	}
}

func TestPasswordReset_RevertsToLoginAfterDelay(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	f := NewFlow(newFakeProvider(), WithAfterFunc(clock.AfterFunc))
	defer f.Close()

	if err := f.SetMode(ModeForgotPassword); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if err := f.RequestPasswordReset(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	snap := f.Snapshot()
	if snap.Notice == "" || snap.Mode != ModeForgotPassword {
		t.Fatalf("expected notice in forgot mode, got %+v", snap)
	}

	clock.Advance(ResetRevertDelay - time.Millisecond)
	if f.Snapshot().Mode != ModeForgotPassword {
		t.Fatal("reverted too early")
	}

	clock.Advance(time.Millisecond)
	snap = f.Snapshot()
	if snap.Mode != ModeLogin || snap.Notice != "" {
		t.Errorf("expected login mode without notice, got %+v", snap)
	}
}

func TestPasswordReset_NotFoundIsSurfaced(t *testing.T) {
	p := newFakeProvider()
	p.err = &Error{Kind: KindNotFound}
	clock := testutil.NewFakeClock(time.Now())
	f := NewFlow(p, WithAfterFunc(clock.AfterFunc))
	defer f.Close()

	err := f.RequestPasswordReset(context.Background(), "nobody@example.com")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if clock.Pending() != 0 {
		t.Error("failed reset should not schedule a revert")
	}
}

func TestSetMode_CancelsPendingRevert(t *testing.T) {
	clock := testutil.NewFakeClock(time.Now())
	f := NewFlow(newFakeProvider(), WithAfterFunc(clock.AfterFunc))
	defer f.Close()

	_ = f.SetMode(ModeForgotPassword)
	if err := f.RequestPasswordReset(context.Background(), "a@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	_ = f.SetMode(ModeSignup)
	if clock.Pending() != 0 {
		t.Errorf("expected revert timer stopped, %d pending", clock.Pending())
	}
	clock.Advance(ResetRevertDelay)
	if m := f.Snapshot().Mode; m != ModeSignup {
		t.Errorf("expected signup mode kept, got %s", m)
	}
}

func TestSignUp_RecordWriteFailureIsNotReturned(t *testing.T) {
	records := &fakeRecords{err: errors.New("firestore unavailable")}
	f := NewFlow(newFakeProvider(), WithRecordWriter(records))

	user, err := f.SignUpWithPassword(context.Background(), "new@example.com", "pw", "pw", "Dr. New")
	if err != nil {
		t.Fatalf("SignUpWithPassword: %v", err)
	}
	if user.DisplayName != "Dr. New" {
		t.Errorf("expected display name on identity, got %q", user.DisplayName)
	}

	f.Close() // waits for the background write
	records.mu.Lock()
	defer records.mu.Unlock()
	if len(records.written) != 1 || records.written[0].UID != "u1" || records.written[0].DisplayName != "Dr. New" {
		t.Errorf("unexpected records: %+v", records.written)
	}
}

func TestSubscribe_ReceivesCurrentThenChanges(t *testing.T) {
	f := NewFlow(newFakeProvider())

	ch, cancel := f.Subscribe()
	defer cancel()

	first := <-ch
	if first.Authenticated() {
		t.Fatal("expected anonymous initial snapshot")
	}

	if _, err := f.SignInWithPassword(context.Background(), "a@example.com", "pw"); err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	latest := <-ch
	if !latest.Authenticated() || latest.User.UID != "u1" {
		t.Errorf("expected authenticated snapshot, got %+v", latest)
	}

	f.Close()
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Close")
	}
}

func TestRestore(t *testing.T) {
	p := newFakeProvider()
	f := NewFlow(p)
	defer f.Close()

	if _, err := f.Restore(context.Background(), ""); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for empty token, got %v", err)
	}

	p.err = &Error{Kind: KindInvalidCredential}
	if _, err := f.Restore(context.Background(), "expired"); err == nil {
		t.Fatal("expected restore failure")
	}
	snap := f.Snapshot()
	if snap.State != StateIdle || snap.Error != "" {
		t.Errorf("failed restore should stay idle and silent, got %+v", snap)
	}

	p.err = nil
	user, err := f.Restore(context.Background(), "token")
	if err != nil || user.UID != "u1" {
		t.Fatalf("Restore: %v %+v", err, user)
	}
}

func TestKindOfAndMessages(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{errors.New("boom"), KindUnknown},
		{context.DeadlineExceeded, KindNetwork},
		{context.Canceled, KindCancelled},
		{&Error{Kind: KindRateLimited}, KindRateLimited},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	seen := make(map[string]Kind)
	for kind := range messages {
		msg := Message(kind)
		if other, dup := seen[msg]; dup {
			t.Errorf("kinds %s and %s share message %q", kind, other, msg)
		}
		seen[msg] = kind
	}
	if Message("bogus") != Message(KindUnknown) {
		t.Error("expected unknown fallback")
	}
}
