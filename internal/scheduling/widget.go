package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/halcyon-surgical/portal/internal/domain"
)

const (
	DefaultDays            = 14
	DefaultDayStartHour    = 9
	DefaultDayEndHour      = 17
	DefaultDurationMinutes = 60
	DefaultTargetID        = "cronofy-date-time-picker"
)

var (
	ErrNotConfigured     = errors.New("scheduling not configured")
	ErrSlotOutsideWindow = errors.New("slot outside availability window")
	ErrInvalidSlot       = errors.New("invalid slot")
)

// Settings configures the widget. ClientID, DataCenter and ElementToken are
// all required for the widget to be available.
type Settings struct {
	ClientID     string
	DataCenter   string
	ElementToken string
	Sub          string
	Location     *time.Location

	Days            int
	DayStartHour    int
	DayEndHour      int
	DurationMinutes int
	TargetID        string
}

// Configured reports whether every required credential is present.
func (s Settings) Configured() bool {
	return s.ClientID != "" && s.DataCenter != "" && s.ElementToken != ""
}

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Days <= 0 {
		s.Days = DefaultDays
	}
	if s.DayEndHour <= s.DayStartHour || s.DayStartHour < 0 || s.DayEndHour > 24 {
		s.DayStartHour, s.DayEndHour = DefaultDayStartHour, DefaultDayEndHour
	}
	if s.DurationMinutes <= 0 {
		s.DurationMinutes = DefaultDurationMinutes
	}
	if s.TargetID == "" {
		s.TargetID = DefaultTargetID
	}
	return s
}

// Period is one queryable window, always in UTC.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Member is a calendar account taking part in a query.
type Member struct {
	Sub string `json:"sub"`
}

// Participants is a group of members and how many of them must be free.
type Participants struct {
	Required string   `json:"required"`
	Members  []Member `json:"members"`
}

// Duration is a widget duration.
type Duration struct {
	Minutes int `json:"minutes"`
}

// AvailabilityQuery is the query the widget resolves free slots against.
type AvailabilityQuery struct {
	Participants     []Participants `json:"participants"`
	RequiredDuration Duration       `json:"required_duration"`
	QueryPeriods     []Period       `json:"query_periods"`
}

// Widget is everything the browser needs to construct the date/time picker.
type Widget struct {
	ElementToken      string            `json:"element_token"`
	DataCenter        string            `json:"data_center"`
	TargetID          string            `json:"target_id"`
	Tzid              string            `json:"tzid"`
	AvailabilityQuery AvailabilityQuery `json:"availability_query"`
}

// Slot is a time range picked in the widget.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SlotHandler receives validated slot selections.
type SlotHandler func(ctx context.Context, user *domain.Identity, slot Slot) error

// QueryPeriods returns one period per day for days days starting on the
// calendar day of now in loc. Each spans startHour to endHour local time.
func QueryPeriods(now time.Time, loc *time.Location, days, startHour, endHour int) []Period {
	y, m, d := now.In(loc).Date()
	periods := make([]Period, 0, days)
	for i := 0; i < days; i++ {
		start := time.Date(y, m, d+i, startHour, 0, 0, 0, loc)
		end := time.Date(y, m, d+i, endHour, 0, 0, 0, loc)
		periods = append(periods, Period{Start: start.UTC(), End: end.UTC()})
	}
	return periods
}

// Bridge is the process-wide scheduling widget integration.
type Bridge struct {
	settings Settings
	loader   *Loader
	now      func() time.Time
	onSlot   SlotHandler
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BridgeOption {
	return func(b *Bridge) { b.now = now }
}

// WithSlotHandler sets the callback for selected slots.
func WithSlotHandler(h SlotHandler) BridgeOption {
	return func(b *Bridge) { b.onSlot = h }
}

// NewBridge creates a Bridge.
func NewBridge(settings Settings, loader *Loader, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		settings: settings.withDefaults(),
		loader:   loader,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Configured reports whether the widget can be offered at all.
func (b *Bridge) Configured() bool { return b.settings.Configured() }

// State returns the widget state; not_configured wins over load state.
func (b *Bridge) State() State {
	if !b.Configured() {
		return StateNotConfigured
	}
	return b.loader.State()
}

// LastError returns the stored script load error, if any.
func (b *Bridge) LastError() error {
	if !b.Configured() {
		return nil
	}
	return b.loader.Err()
}

// Script returns the loaded widget script.
func (b *Bridge) Script() ([]byte, bool) {
	if !b.Configured() {
		return nil, false
	}
	return b.loader.Script()
}

// Reload retries a failed or stale script load.
func (b *Bridge) Reload(ctx context.Context) error {
	if !b.Configured() {
		return ErrNotConfigured
	}
	return b.loader.Reload(ctx)
}

// Widget loads the script if needed and returns the widget payload for a
// picker opened at now.
func (b *Bridge) Widget(ctx context.Context, now time.Time) (*Widget, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	if err := b.loader.Load(ctx); err != nil {
		return nil, fmt.Errorf("load widget script: %w", err)
	}

	s := b.settings
	var members []Member
	if s.Sub != "" {
		members = append(members, Member{Sub: s.Sub})
	}
	return &Widget{
		ElementToken: s.ElementToken,
		DataCenter:   s.DataCenter,
		TargetID:     s.TargetID,
		Tzid:         s.Location.String(),
		AvailabilityQuery: AvailabilityQuery{
			Participants:     []Participants{{Required: "all", Members: members}},
			RequiredDuration: Duration{Minutes: s.DurationMinutes},
			QueryPeriods:     QueryPeriods(now, s.Location, s.Days, s.DayStartHour, s.DayEndHour),
		},
	}, nil
}

// SelectSlot accepts a slot picked in the widget. The slot must fit inside
// one of the current query periods.
func (b *Bridge) SelectSlot(ctx context.Context, user *domain.Identity, slot Slot) error {
	if !b.Configured() {
		return ErrNotConfigured
	}
	if slot.Start.IsZero() || !slot.End.After(slot.Start) {
		return ErrInvalidSlot
	}

	s := b.settings
	slot = Slot{Start: slot.Start.UTC(), End: slot.End.UTC()}
	inside := false
	for _, p := range QueryPeriods(b.now(), s.Location, s.Days, s.DayStartHour, s.DayEndHour) {
		if !slot.Start.Before(p.Start) && !slot.End.After(p.End) {
			inside = true
			break
		}
	}
	if !inside {
		return ErrSlotOutsideWindow
	}

	uid := ""
	if user != nil {
		uid = user.UID
	}
	slog.Info("Scheduling slot selected", "user_id", uid, "start", slot.Start, "end", slot.End)
	if b.onSlot == nil {
		return nil
	}
	return b.onSlot(ctx, user, slot)
}
