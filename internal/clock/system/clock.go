// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Clock implements mirror.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Stamp formats t the way the archive writes capture timestamps.
func Stamp(t time.Time) string {
	return t.UTC().Format(mirror.TimestampLayout)
}
