package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveVisitor(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = VisitorIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, rec
}

func visitorCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == VisitorCookieName {
			return c
		}
	}
	t.Fatal("expected visitor cookie")
	return nil
}

func TestMiddleware_ScopesSessionHeaderUnderCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.Header.Set(SessionHeaderName, "tab-42")

	got, rec := serveVisitor(t, req)
	cookie := visitorCookie(t, rec)
	if got != cookie.Value+":tab-42" {
		t.Fatalf("expected %s:tab-42, got %q", cookie.Value, got)
	}

	again := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	again.Header.Set(SessionHeaderName, "tab-42")
	again.AddCookie(cookie)
	if reused, _ := serveVisitor(t, again); reused != got {
		t.Errorf("expected same visitor with same cookie, got %q", reused)
	}
}

func TestMiddleware_SameTabIDDifferentCookie(t *testing.T) {
	first := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	first.Header.Set(SessionHeaderName, "1")
	owner, _ := serveVisitor(t, first)

	other := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	other.Header.Set(SessionHeaderName, "1")
	other.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "v_" + strings.Repeat("a", 32)})
	got, _ := serveVisitor(t, other)
	if got == owner {
		t.Fatal("a different cookie must not reach the same visitor")
	}
	if got != "v_"+strings.Repeat("a", 32)+":1" {
		t.Errorf("unexpected visitor %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/api/auth/events?session_id=1", nil)
	if got, _ := serveVisitor(t, bare); got == owner || !strings.HasSuffix(got, ":1") {
		t.Errorf("expected a freshly minted visitor, got %q", got)
	}
}

func TestMiddleware_UsesQueryParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/events?session_id=tab-7", nil)

	got, rec := serveVisitor(t, req)
	if got != visitorCookie(t, rec).Value+":tab-7" {
		t.Errorf("expected cookie-scoped tab-7, got %q", got)
	}
}

func TestMiddleware_FallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "bad id with spaces")

	got, rec := serveVisitor(t, req)
	if !strings.HasPrefix(got, "v_") || !cookieIDPattern.MatchString(got) {
		t.Fatalf("expected minted visitor id, got %q", got)
	}
	cookie := visitorCookie(t, rec)
	if cookie.Value != got {
		t.Fatalf("expected visitor cookie %q, got %q", got, cookie.Value)
	}

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.AddCookie(cookie)
	if reused, _ := serveVisitor(t, again); reused != got {
		t.Errorf("expected cookie id reused, got %q", reused)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "admin"})

	got, _ := serveVisitor(t, req)
	if got == "admin" || !cookieIDPattern.MatchString(got) {
		t.Errorf("expected a minted id, got %q", got)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := map[string]string{
		"":                       "",
		"  abc  ":                "abc",
		"a/b":                    "",
		strings.Repeat("x", 129): "",
		"tab_1.2:3-4":            "tab_1.2:3-4",
	}
	for in, want := range tests {
		if got := sanitizeSessionID(in); got != want {
			t.Errorf("sanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}
