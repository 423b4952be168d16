package api

import (
	"net/http"
	"testing"

	"github.com/halcyon-surgical/portal/internal/portal"
	"github.com/halcyon-surgical/portal/internal/session"
)

func TestAuth_LoginUnlocksPortal(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var before PortalResponse
	env.do(t, "tab-1", http.MethodGet, "/api/portal", nil, &before)
	if before.User != nil {
		t.Fatal("expected anonymous visitor")
	}
	for _, tab := range before.Tabs {
		if tab.Locked != tab.Name.RequiresAuth() {
			t.Errorf("tab %s: locked=%v", tab.Name, tab.Locked)
		}
	}

	resp := env.login(t, "tab-1")
	if resp.Session.State != session.StateAuthenticated {
		t.Errorf("expected authenticated, got %s", resp.Session.State)
	}
	if resp.IDToken != "tok-dr@example.com" {
		t.Errorf("expected id token in response, got %q", resp.IDToken)
	}

	var after PortalResponse
	env.do(t, "tab-1", http.MethodGet, "/api/portal", nil, &after)
	if after.User == nil || after.User.Email != "dr@example.com" {
		t.Fatalf("expected signed-in user, got %+v", after.User)
	}
	if after.Greeting != "Welcome, dr@example.com" {
		t.Errorf("unexpected greeting %q", after.Greeting)
	}
	for _, tab := range after.Tabs {
		if tab.Locked {
			t.Errorf("tab %s still locked", tab.Name)
		}
	}

	// Another browser tab is a separate visitor.
	var other PortalResponse
	env.do(t, "tab-2", http.MethodGet, "/api/portal", nil, &other)
	if other.User != nil {
		t.Error("expected tab-2 to stay anonymous")
	}
}

func TestAuth_LoginWrongPassword(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	var body errorBody
	status := env.do(t, "tab-1", http.MethodPost, "/api/auth/login",
		map[string]string{"email": "dr@example.com", "password": "nope"}, &body)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
	if body.Kind != string(session.KindInvalidCredential) {
		t.Errorf("expected invalid_credential, got %q", body.Kind)
	}

	var state AuthResponse
	env.do(t, "tab-1", http.MethodGet, "/api/auth/state", nil, &state)
	if state.Session.State != session.StateFailed {
		t.Errorf("expected failed, got %s", state.Session.State)
	}
	if state.Session.Email != "dr@example.com" {
		t.Errorf("expected email kept, got %q", state.Session.Email)
	}
}

func TestAuth_SignupPasswordMismatch(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	var body errorBody
	status := env.do(t, "tab-1", http.MethodPost, "/api/auth/signup", map[string]string{
		"email":           "dr@example.com",
		"password":        "correct-horse",
		"confirmPassword": "correct-horsf",
	}, &body)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
	if body.Kind != string(session.KindPasswordMismatch) {
		t.Errorf("expected password_mismatch, got %q", body.Kind)
	}
}

func TestAuth_ResetNotConfigured(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.do(t, "tab-1", http.MethodPost, "/api/auth/mode", map[string]string{"mode": "forgot_password"}, nil)

	var body errorBody
	status := env.do(t, "tab-1", http.MethodPost, "/api/auth/reset", map[string]string{"email": "dr@example.com"}, &body)
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
}

func TestAuth_SetModeRejectsUnknown(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	status := env.do(t, "tab-1", http.MethodPost, "/api/auth/mode", map[string]string{"mode": "magic_link"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestAuth_Restore(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	var resp AuthResponse
	status := env.do(t, "tab-1", http.MethodPost, "/api/auth/restore", map[string]string{"idToken": "tok-dr@example.com"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !resp.Session.Authenticated() {
		t.Error("expected restored session")
	}
}

func TestAuth_LogoutReturnsToContact(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "tab-1")
	env.do(t, "tab-1", http.MethodPost, "/api/portal/tab", map[string]string{"tab": "tasks"}, nil)

	var resp AuthResponse
	if status := env.do(t, "tab-1", http.MethodPost, "/api/auth/logout", nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.Session.Authenticated() {
		t.Error("expected signed out")
	}

	var p PortalResponse
	env.do(t, "tab-1", http.MethodGet, "/api/portal", nil, &p)
	if p.Tab != portal.TabContact {
		t.Errorf("expected contact tab, got %s", p.Tab)
	}

	// Signing out again is fine.
	if status := env.do(t, "tab-1", http.MethodPost, "/api/auth/logout", nil, nil); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
}

func TestOpenTab_RequiresSignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	var body errorBody
	status := env.do(t, "tab-1", http.MethodPost, "/api/portal/tab", map[string]string{"tab": "schedule"}, &body)
	if status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
	if body.Kind != "sign_in_required" {
		t.Errorf("unexpected kind %q", body.Kind)
	}
	if status := env.do(t, "tab-1", http.MethodPost, "/api/portal/tab", map[string]string{"tab": "billing"}, nil); status != http.StatusBadRequest {
		t.Errorf("unknown tab: expected 400, got %d", status)
	}
}
