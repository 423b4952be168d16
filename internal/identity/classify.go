package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"

	"firebase.google.com/go/v4/auth"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/halcyon-surgical/portal/internal/session"
)

// codeKinds maps Identity Toolkit error codes to session error kinds.
var codeKinds = map[string]session.Kind{
	"EMAIL_NOT_FOUND":                session.KindNotFound,
	"USER_NOT_FOUND":                 session.KindNotFound,
	"INVALID_PASSWORD":               session.KindInvalidCredential,
	"INVALID_LOGIN_CREDENTIALS":      session.KindInvalidCredential,
	"USER_DISABLED":                  session.KindInvalidCredential,
	"INVALID_IDP_RESPONSE":           session.KindInvalidCredential,
	"INVALID_ID_TOKEN":               session.KindInvalidCredential,
	"TOKEN_EXPIRED":                  session.KindInvalidCredential,
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": session.KindInvalidCredential,
	"INVALID_EMAIL":                  session.KindMalformedEmail,
	"MISSING_EMAIL":                  session.KindMalformedEmail,
	"TOO_MANY_ATTEMPTS_TRY_LATER":    session.KindRateLimited,
	"QUOTA_EXCEEDED":                 session.KindRateLimited,
	"EMAIL_EXISTS":                   session.KindAlreadyExists,
	"WEAK_PASSWORD":                  session.KindValidation,
	"MISSING_PASSWORD":               session.KindValidation,
	"OPERATION_NOT_ALLOWED":          session.KindNotConfigured,
	"CONFIGURATION_NOT_FOUND":        session.KindNotConfigured,
	"API_KEY_INVALID":                session.KindNotConfigured,
	"USER_CANCELLED":                 session.KindCancelled,
}

// providerCode extracts the leading code from messages such as
// "TOO_MANY_ATTEMPTS_TRY_LATER : Access to this account has been disabled".
func providerCode(msg string) string {
	code, _, _ := strings.Cut(msg, ":")
	return strings.TrimSpace(code)
}

func kindForCode(code string, status int) session.Kind {
	if kind, ok := codeKinds[code]; ok {
		return kind
	}
	switch {
	case status == http.StatusTooManyRequests:
		return session.KindRateLimited
	case status >= 500:
		return session.KindNetwork
	}
	return session.KindUnknown
}

// classify turns an identity service failure into a *session.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *session.Error
	if errors.As(err, &se) {
		return err
	}
	return &session.Error{Kind: kindOf(err), Op: op, Err: err}
}

func kindOf(err error) session.Kind {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" && len(gerr.Errors) > 0 {
			msg = gerr.Errors[0].Message
		}
		return kindForCode(providerCode(msg), gerr.Code)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "access_denied":
			return session.KindCancelled
		case "invalid_grant":
			return session.KindInvalidCredential
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return session.KindNetwork
		}
		return session.KindUnknown
	}

	switch {
	case auth.IsUserNotFound(err):
		return session.KindNotFound
	case auth.IsIDTokenExpired(err), auth.IsIDTokenInvalid(err), auth.IsIDTokenRevoked(err), auth.IsUserDisabled(err):
		return session.KindInvalidCredential
	case errors.Is(err, context.Canceled):
		return session.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return session.KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return session.KindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return session.KindNetwork
	}
	return session.KindUnknown
}
