package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/halcyon-surgical/portal/internal/domain"
	"github.com/halcyon-surgical/portal/internal/metrics"
	"github.com/halcyon-surgical/portal/internal/shared"
)

// Status is the contact-form send status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// RevertDelay is how long a success or error status stays up.
const RevertDelay = 5 * time.Second

// FallbackErrorText is shown when a failure carries no usable text.
const FallbackErrorText = "Failed to send message. Please try again later."

var (
	ErrBusy          = errors.New("an inquiry is already being sent")
	ErrNotConfigured = errors.New("email service not configured")
	ErrClosed        = errors.New("sender closed")
)

// ValidationError reports a required inquiry field that is missing or malformed.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid inquiry: %s is missing or malformed", e.Field)
}

// Snapshot is the form-facing state of a Sender.
type Snapshot struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Option configures a Sender.
type Option func(*Sender)

// WithAfterFunc replaces the timer used for the status auto-revert.
func WithAfterFunc(af shared.AfterFunc) Option {
	return func(s *Sender) { s.afterFunc = af }
}

// Sender submits inquiries for one visitor. A nil transport means the email
// service is not configured; every submit then fails.
type Sender struct {
	transport Transport
	afterFunc shared.AfterFunc

	mu      sync.Mutex
	status  Status
	errText string
	revert  shared.Timer
	gen     int
	closed  bool
}

// NewSender creates an idle Sender.
func NewSender(t Transport, opts ...Option) *Sender {
	s := &Sender{
		transport: t,
		afterFunc: shared.RealAfterFunc,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current status.
func (s *Sender) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Status: s.status, Error: s.errText}
}

// Submit validates and sends inq. Invalid inquiries are rejected before the
// transport is touched and leave the status unchanged. Any send outcome
// reverts to idle after RevertDelay.
func (s *Sender) Submit(ctx context.Context, inq domain.Inquiry) error {
	if field := inq.MissingField(); field != "" {
		return &ValidationError{Field: field}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.status == StatusSending {
		s.mu.Unlock()
		return ErrBusy
	}
	s.stopRevertLocked()
	s.status = StatusSending
	s.errText = ""
	s.mu.Unlock()

	var err error
	if s.transport == nil {
		err = ErrNotConfigured
	} else {
		err = s.transport.Send(ctx, inq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	if err != nil {
		s.status = StatusError
		s.errText = ErrorText(err)
		metrics.RecordInquiry("error")
		slog.Error("Failed to send inquiry", "inquiry_type", inq.Type, "error", err)
	} else {
		s.status = StatusSuccess
		metrics.RecordInquiry("success")
		slog.Info("Inquiry sent", "inquiry_type", inq.Type)
	}

	s.gen++
	gen := s.gen
	s.revert = s.afterFunc(RevertDelay, func() { s.revertTo(gen) })
	return err
}

func (s *Sender) revertTo(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen || s.status == StatusSending {
		return
	}
	s.revert = nil
	s.status = StatusIdle
	s.errText = ""
}

// Close stops the revert timer.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopRevertLocked()
}

func (s *Sender) stopRevertLocked() {
	if s.revert != nil {
		s.revert.Stop()
		s.revert = nil
	}
}

// ErrorText extracts the text to show for a failed send: the service's own
// text for a *SendError, the error message otherwise, and a fallback when
// neither says anything.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) {
		if t := strings.TrimSpace(se.Text); t != "" {
			return t
		}
		return FallbackErrorText
	}
	if errors.Is(err, ErrNotConfigured) {
		return "The contact form is not available right now."
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return FallbackErrorText
}
