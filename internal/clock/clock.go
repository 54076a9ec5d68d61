// Package clock provides an injectable time source so expiry and sliding
// extension logic can be driven deterministically in tests.
package clock

import "time"

// Clock is the capability every expiry calculation depends on.
type Clock interface {
	// NowUTC returns the current instant in UTC.
	NowUTC() time.Time
	// UnixNow returns the current instant as seconds since the Unix epoch,
	// the unit every persisted expiry/creation column uses.
	UnixNow() int64
}

// System is the production Clock, backed by time.Now.
type System struct{}

// NowUTC implements Clock.
func (System) NowUTC() time.Time { return time.Now().UTC() }

// UnixNow implements Clock.
func (System) UnixNow() int64 { return time.Now().UTC().Unix() }

var _ Clock = System{}
