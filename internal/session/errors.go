package session

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a session failure. Each kind maps to one user-facing message.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindPasswordMismatch  Kind = "password_mismatch"
	KindNotFound          Kind = "not_found"
	KindInvalidCredential Kind = "invalid_credential"
	KindMalformedEmail    Kind = "malformed_email"
	KindRateLimited       Kind = "rate_limited"
	KindAlreadyExists     Kind = "already_exists"
	KindCancelled         Kind = "cancelled"
	KindNetwork           Kind = "network"
	KindNotConfigured     Kind = "not_configured"
	KindBusy              Kind = "busy"
	KindUnknown           Kind = "unknown"
)

// Error is a classified session failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind-only sentinels such as ErrBusy, so errors.Is(err, ErrBusy)
// holds for any busy error regardless of operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrBusy             = &Error{Kind: KindBusy}
	ErrPasswordMismatch = &Error{Kind: KindPasswordMismatch}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrNotConfigured    = &Error{Kind: KindNotConfigured}
)

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrPasswordRequired = errors.New("password is required")
	ErrTokenRequired    = errors.New("id token is required")
	ErrAlreadySignedIn  = errors.New("already signed in")
	ErrUnknownMode      = errors.New("unknown mode")
	ErrClosed           = errors.New("session closed")
)

// KindOf returns the kind of err. Unclassified errors are KindUnknown,
// except deadline expiry which is KindNetwork and cancellation which is
// KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindUnknown
}

// classify wraps err as an *Error for op, keeping an existing classification.
func classify(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			return &Error{Kind: e.Kind, Op: op, Err: e.Err}
		}
		return e
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

var messages = map[Kind]string{
	KindValidation:        "Please fill in all required fields.",
	KindPasswordMismatch:  "Passwords do not match.",
	KindNotFound:          "No account found with this email address.",
	KindInvalidCredential: "Incorrect email or password.",
	KindMalformedEmail:    "Please enter a valid email address.",
	KindRateLimited:       "Too many attempts. Please try again later.",
	KindAlreadyExists:     "An account with this email already exists.",
	KindCancelled:         "Sign-in was cancelled.",
	KindNetwork:           "Network error. Check your connection and try again.",
	KindNotConfigured:     "Sign-in is not available right now.",
	KindBusy:              "Please wait for the current request to finish.",
	KindUnknown:           "Something went wrong. Please try again.",
}

// Message returns the user-facing text for kind.
func Message(kind Kind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return messages[KindUnknown]
}
