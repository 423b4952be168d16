// Package scheduling bridges the portal to the hosted calendar widget: it
// loads the widget script once per process and builds the availability
// query the widget is constructed with.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/halcyon-surgical/portal/internal/metrics"
)

// DefaultScriptURL is the calendar widget script.
const DefaultScriptURL = "https://elements.cronofy.com/js/CronofyElements.v1.46.0.js"

const (
	fetchTimeout   = 15 * time.Second
	maxScriptBytes = 4 << 20
	flightKey      = "script"
)

// State is the load state of the widget.
type State string

const (
	StateNotConfigured State = "not_configured"
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateError         State = "error"
)

// Loader fetches the widget script at most once. Concurrent callers share a
// single fetch; after a failure the error is returned until Reload.
type Loader struct {
	url    string
	client *http.Client
	group  singleflight.Group

	mu     sync.Mutex
	state  State
	script []byte
	err    error
}

// NewLoader creates a Loader for url. A nil client uses http.DefaultClient.
func NewLoader(url string, client *http.Client) *Loader {
	if url == "" {
		url = DefaultScriptURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{url: url, client: client, state: StateIdle}
}

// State returns the current load state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the stored load error, if any.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Script returns the loaded script body.
func (l *Loader) Script() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.script, l.state == StateReady
}

// Load makes sure the script is loaded. ctx only bounds how long this caller
// waits; the shared fetch runs to completion for the others.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		l.mu.Unlock()
		return nil
	case StateError:
		err := l.err
		l.mu.Unlock()
		return err
	}
	l.state = StateLoading
	l.mu.Unlock()

	ch := l.group.DoChan(flightKey, func() (interface{}, error) {
		l.mu.Lock()
		switch l.state {
		case StateReady:
			l.mu.Unlock()
			return nil, nil
		case StateError:
			err := l.err
			l.mu.Unlock()
			return nil, err
		}
		l.mu.Unlock()
		return nil, l.fetch(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reload discards any previous result and fetches the script again.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateLoading {
		l.mu.Unlock()
		return l.Load(ctx)
	}
	l.state = StateIdle
	l.script = nil
	l.err = nil
	l.mu.Unlock()

	l.group.Forget(flightKey)
	return l.Load(ctx)
}

func (l *Loader) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	start := time.Now()
	script, err := l.get(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = StateError
		l.err = err
		metrics.RecordScriptLoad("error", time.Since(start))
		slog.Error("Failed to load scheduling widget script", "url", l.url, "error", err)
		return err
	}
	l.state = StateReady
	l.script = script
	l.err = nil
	metrics.RecordScriptLoad("ok", time.Since(start))
	slog.Info("Scheduling widget script loaded", "url", l.url, "bytes", len(script))
	return nil
}

var errEmptyScript = errors.New("empty script body")

func (l *Loader) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build script request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch script: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyScript
	}
	return body, nil
}
