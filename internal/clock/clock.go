package clock

import (
	"time"
	_ "time/tzdata"
)

// DefaultTimezone is the operating timezone of every pickup computation.
const DefaultTimezone = "Asia/Tokyo"

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type systemClock struct {
	loc *time.Location
}

// New returns the wall clock expressed in loc.
func New(loc *time.Location) Clock {
	if loc == nil {
		loc = MustLocation(DefaultTimezone)
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time { return time.Now().In(c.loc) }

func (c systemClock) Location() *time.Location { return c.loc }

// MustLocation loads name, falling back to a fixed JST offset when the zone database is unusable.
func MustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

// Fixed is a settable clock for tests and batch tools.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

func (f *Fixed) Location() *time.Location { return f.T.Location() }

func (f *Fixed) Set(t time.Time) { f.T = t }

func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
