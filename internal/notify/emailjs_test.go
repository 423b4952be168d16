package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmailJS_Send(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	tr := NewEmailJS(EmailJSConfig{ServiceID: "svc", TemplateID: "tpl", PublicKey: "pub", Endpoint: srv.URL}, srv.Client())
	if err := tr.Send(context.Background(), validInquiry()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.ServiceID != "svc" || got.TemplateID != "tpl" || got.UserID != "pub" {
		t.Errorf("unexpected identifiers: %+v", got)
	}
	if got.TemplateParams["from_name"] != "Dana Whitfield" || got.TemplateParams["inquiry_type"] != "clinical" {
		t.Errorf("unexpected template params: %+v", got.TemplateParams)
	}
}

func TestEmailJS_NonSuccessIsSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("The Public Key is invalid\n"))
	}))
	defer srv.Close()

	tr := NewEmailJS(EmailJSConfig{ServiceID: "svc", TemplateID: "tpl", PublicKey: "bad", Endpoint: srv.URL}, srv.Client())
	err := tr.Send(context.Background(), validInquiry())

	var se *SendError
	if !errors.As(err, &se) {
		t.Fatalf("expected SendError, got %v", err)
	}
	if se.Status != http.StatusBadRequest || se.Text != "The Public Key is invalid" {
		t.Errorf("unexpected SendError: %+v", se)
	}
}

func TestEmailJSConfig_Configured(t *testing.T) {
	if (EmailJSConfig{ServiceID: "a", TemplateID: "b"}).Configured() {
		t.Error("expected unconfigured without public key")
	}
	if !(EmailJSConfig{ServiceID: "a", TemplateID: "b", PublicKey: "c"}).Configured() {
		t.Error("expected configured")
	}
}
