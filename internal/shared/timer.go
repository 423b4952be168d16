package shared

import "time"

// Timer is the part of *time.Timer the portal relies on.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d. Components take one so tests can
// drive auto-revert timers without sleeping.
type AfterFunc func(d time.Duration, f func()) Timer

// RealAfterFunc is AfterFunc backed by time.AfterFunc.
func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
