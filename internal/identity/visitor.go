// Package identity connects the portal to the hosted identity service and
// carries per-visitor identifiers through request contexts.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	VisitorCookieName   = "portal_visitor"
	SessionHeaderName   = "X-Portal-Session"
	DefaultVisitorValue = "default"
	visitorCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	visitorIDKey contextKey = iota
)

var (
	cookieIDPattern  = regexp.MustCompile(`^v_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// VisitorIDFromContext extracts the visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return DefaultVisitorValue
}

// WithVisitorID returns a copy of ctx carrying id.
func WithVisitorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, visitorIDKey, id)
}

func generateVisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "v_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func setVisitorCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// visitorIDFromRequest keys the visitor by the server-minted cookie. A per-tab
// session id only narrows it, so a tab id is never enough on its own.
func visitorIDFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	anonID, err := visitorCookieID(w, r, isDev)
	if err != nil {
		return "", err
	}
	if sid := sessionIDFromRequest(r); sid != "" {
		return anonID + ":" + sid, nil
	}
	return anonID, nil
}

func visitorCookieID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(VisitorCookieName); err == nil && cookieIDPattern.MatchString(c.Value) {
		setVisitorCookie(w, c.Value, isDev)
		return c.Value, nil
	}
	id, err := generateVisitorID()
	if err != nil {
		return "", err
	}
	setVisitorCookie(w, id, isDev)
	return id, nil
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the visitor ID into every request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := visitorIDFromRequest(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish visitor session"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithVisitorID(r.Context(), id)))
		})
	}
}
