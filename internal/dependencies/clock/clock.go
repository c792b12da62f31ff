package clock

import "time"

// Clock provides time operations that can be mocked for testing
type Clock interface {
	Now() time.Time
}

// System reads the wall clock. Times are UTC and carry no monotonic reading,
// so a timestamp compares equal to itself after a round trip through storage.
type System struct{}

// New creates a system clock
func New() System {
	return System{}
}

// Now returns the current wall-clock time
func (System) Now() time.Time {
	return time.Now().UTC().Round(0)
}
