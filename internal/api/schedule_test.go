package api

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/halcyon-surgical/portal/internal/scheduling"
)

func TestSchedule_NotConfigured(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.login(t, "tab-1")

	var resp ScheduleResponse
	if status := env.do(t, "tab-1", http.MethodGet, "/api/schedule", nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.State != scheduling.StateNotConfigured || resp.Widget != nil {
		t.Errorf("unexpected response %+v", resp)
	}

	slot := scheduling.Slot{Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)}
	if status := env.do(t, "tab-1", http.MethodPost, "/api/schedule/slot", slot, nil); status != http.StatusServiceUnavailable {
		t.Errorf("slot: expected 503, got %d", status)
	}
}

func TestSchedule_RequiresSignIn(t *testing.T) {
	env := newTestEnv(t, envOptions{calendar: true})
	if status := env.do(t, "tab-1", http.MethodGet, "/api/schedule", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", status)
	}
}

func TestSchedule_WidgetAndSlot(t *testing.T) {
	env := newTestEnv(t, envOptions{calendar: true})
	env.login(t, "tab-1")

	var resp ScheduleResponse
	if status := env.do(t, "tab-1", http.MethodGet, "/api/schedule", nil, &resp); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if resp.State != scheduling.StateReady || resp.Widget == nil {
		t.Fatalf("expected ready widget, got %+v", resp)
	}
	if got := len(resp.Widget.AvailabilityQuery.QueryPeriods); got != scheduling.DefaultDays {
		t.Errorf("expected %d periods, got %d", scheduling.DefaultDays, got)
	}
	if resp.Widget.ElementToken != "element-token" {
		t.Errorf("unexpected element token %q", resp.Widget.ElementToken)
	}

	scriptResp, err := env.client.Get(env.srv.URL + "/api/schedule/script")
	if err != nil {
		t.Fatalf("get script: %v", err)
	}
	script, _ := io.ReadAll(scriptResp.Body)
	_ = scriptResp.Body.Close()
	if scriptResp.StatusCode != http.StatusOK || string(script) != "window.CronofyElements = {};" {
		t.Errorf("unexpected script response %d %q", scriptResp.StatusCode, script)
	}

	inside := scheduling.Slot{Start: testNow.Add(time.Hour), End: testNow.Add(2 * time.Hour)}
	if status := env.do(t, "tab-1", http.MethodPost, "/api/schedule/slot", inside, nil); status != http.StatusOK {
		t.Errorf("inside slot: expected 200, got %d", status)
	}
	outside := scheduling.Slot{Start: testNow.Add(11 * time.Hour), End: testNow.Add(12 * time.Hour)}
	if status := env.do(t, "tab-1", http.MethodPost, "/api/schedule/slot", outside, nil); status != http.StatusBadRequest {
		t.Errorf("outside slot: expected 400, got %d", status)
	}
}

func TestSchedule_ScriptNotLoaded(t *testing.T) {
	env := newTestEnv(t, envOptions{calendar: true})
	resp, err := env.client.Get(env.srv.URL + "/api/schedule/script")
	if err != nil {
		t.Fatalf("get script: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
