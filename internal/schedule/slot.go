package schedule

import (
	"errors"
	"fmt"
	"time"
)

// SlotCode identifies a weekly pickup window.
type SlotCode string

const (
	SlotWednesdayEvening SlotCode = "wed_1900"
	SlotSaturdayMorning  SlotCode = "sat_1000"
)

var (
	ErrInvalidSlotCode   = errors.New("invalid_slot_code")
	ErrUnknownOccurrence = errors.New("unknown_occurrence")
)

// SlotDefinition is a weekly recurrence: a weekday, a local start time and a length.
type SlotDefinition struct {
	Code        SlotCode
	Weekday     time.Weekday
	StartHour   int
	StartMinute int
	Duration    time.Duration
	Label       string
}

func (d SlotDefinition) validate() error {
	if d.Code == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidSlotCode)
	}
	if d.Weekday < time.Sunday || d.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday out of range", ErrInvalidSlotCode)
	}
	if d.StartHour < 0 || d.StartHour > 23 || d.StartMinute < 0 || d.StartMinute > 59 {
		return fmt.Errorf("%w: start time out of range", ErrInvalidSlotCode)
	}
	if d.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSlotCode)
	}
	return nil
}

// startOn returns the slot start on the calendar day of day, in loc.
func (d SlotDefinition) startOn(day time.Time, loc *time.Location) time.Time {
	y, m, dd := day.In(loc).Date()
	return time.Date(y, m, dd, d.StartHour, d.StartMinute, 0, 0, loc)
}

func canonicalSlots() []SlotDefinition {
	return []SlotDefinition{
		{
			Code:        SlotWednesdayEvening,
			Weekday:     time.Wednesday,
			StartHour:   19,
			StartMinute: 0,
			Duration:    time.Hour,
			Label:       "Wednesday 19:00-20:00",
		},
		{
			Code:        SlotSaturdayMorning,
			Weekday:     time.Saturday,
			StartHour:   10,
			StartMinute: 0,
			Duration:    time.Hour,
			Label:       "Saturday 10:00-11:00",
		},
	}
}
