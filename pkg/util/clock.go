package util

import "time"

type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// Seconds converts t to float seconds since epoch, the unit used for all
// order and trade timestamps.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromMillis converts an exchange millisecond timestamp to float seconds.
func FromMillis(ms int64) float64 {
	return float64(ms) / 1e3
}
