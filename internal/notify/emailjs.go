// Package notify sends contact-form inquiries through the transactional
// email service and tracks the send status shown on the form.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/halcyon-surgical/portal/internal/domain"
)

// DefaultEndpoint is the EmailJS send endpoint.
const DefaultEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

const maxErrorBody = 4 << 10

// Transport delivers one inquiry.
type Transport interface {
	Send(ctx context.Context, inq domain.Inquiry) error
}

// SendError is a non-2xx answer from the email service. Text is the body the
// service returned, which EmailJS fills with a readable reason.
type SendError struct {
	Status int
	Text   string
}

func (e *SendError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("email service returned %d", e.Status)
	}
	return fmt.Sprintf("email service returned %d: %s", e.Status, e.Text)
}

// EmailJSConfig identifies the EmailJS service, template and account.
type EmailJSConfig struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string // optional access token for server-side sends
	Endpoint   string
}

// Configured reports whether every required identifier is present.
func (c EmailJSConfig) Configured() bool {
	return c.ServiceID != "" && c.TemplateID != "" && c.PublicKey != ""
}

// EmailJS is a Transport over the EmailJS REST API.
type EmailJS struct {
	cfg        EmailJSConfig
	httpClient *http.Client
}

// NewEmailJS creates an EmailJS transport. A nil client gets a 10s timeout.
func NewEmailJS(cfg EmailJSConfig, client *http.Client) *EmailJS {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &EmailJS{cfg: cfg, httpClient: client}
}

type sendRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

// TemplateParams maps an inquiry onto the email template fields.
func TemplateParams(inq domain.Inquiry) map[string]string {
	return map[string]string{
		"from_name":    strings.TrimSpace(inq.FullName),
		"from_email":   strings.TrimSpace(inq.Email),
		"reply_to":     strings.TrimSpace(inq.Email),
		"phone":        strings.TrimSpace(inq.Phone),
		"company":      strings.TrimSpace(inq.Company),
		"inquiry_type": string(inq.Type),
		"message":      strings.TrimSpace(inq.Message),
	}
}

// Send posts inq to EmailJS.
func (e *EmailJS) Send(ctx context.Context, inq domain.Inquiry) error {
	b, err := json.Marshal(sendRequest{
		ServiceID:      e.cfg.ServiceID,
		TemplateID:     e.cfg.TemplateID,
		UserID:         e.cfg.PublicKey,
		AccessToken:    e.cfg.PrivateKey,
		TemplateParams: TemplateParams(inq),
	})
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &SendError{Status: resp.StatusCode, Text: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
