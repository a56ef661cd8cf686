package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultReservationCutoff is how long before pickup start new reservations close.
const DefaultReservationCutoff = 3 * time.Hour

// Occurrence is one concrete pickup of a weekly slot.
type Occurrence struct {
	SlotCode            SlotCode
	EventStart          time.Time
	EventEnd            time.Time
	ReservationDeadline time.Time
	GraceUntil          time.Time
}

// OccurrenceKey identifies an occurrence without storing it.
type OccurrenceKey struct {
	SlotCode   SlotCode
	EventStart time.Time
}

func (k OccurrenceKey) String() string {
	return fmt.Sprintf("%s@%s", k.SlotCode, k.EventStart.Format(time.RFC3339))
}

func (o Occurrence) Key() OccurrenceKey {
	return OccurrenceKey{SlotCode: o.SlotCode, EventStart: o.EventStart}
}

// OpenForReservation reports whether a new reservation may bind to o at now.
// The deadline itself is already closed.
func (o Occurrence) OpenForReservation(now time.Time) bool {
	return now.Before(o.ReservationDeadline)
}

// CancellationCutoff is the strict deadline, or the grace cutoff when useGrace is set.
func (o Occurrence) CancellationCutoff(useGrace bool) time.Time {
	if useGrace {
		return o.GraceUntil
	}
	return o.ReservationDeadline
}

// Cancellable reports whether a consumer may still cancel at now.
func (o Occurrence) Cancellable(now time.Time, useGrace bool) bool {
	return now.Before(o.CancellationCutoff(useGrace))
}

// Ended reports whether the pickup window is over.
func (o Occurrence) Ended(now time.Time) bool {
	return !now.Before(o.EventEnd)
}

type Scheduler struct {
	loc    *time.Location
	cutoff time.Duration
	grace  time.Duration

	mu    sync.RWMutex
	slots map[SlotCode]SlotDefinition
}

// New builds a scheduler with the canonical slots registered.
// A negative cutoff or grace is treated as zero, so GraceUntil never precedes the deadline.
func New(loc *time.Location, cutoff, grace time.Duration) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if cutoff < 0 {
		cutoff = 0
	}
	if grace < 0 {
		grace = 0
	}
	s := &Scheduler{
		loc:    loc,
		cutoff: cutoff,
		grace:  grace,
		slots:  make(map[SlotCode]SlotDefinition),
	}
	for _, def := range canonicalSlots() {
		s.slots[def.Code] = def
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// Register adds or replaces a weekly slot definition.
func (s *Scheduler) Register(def SlotDefinition) error {
	if err := def.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[def.Code] = def
	return nil
}

func (s *Scheduler) Definition(code SlotCode) (SlotDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.slots[code]
	if !ok {
		return SlotDefinition{}, fmt.Errorf("%w: %q", ErrInvalidSlotCode, string(code))
	}
	return def, nil
}

// Slots returns the registered definitions ordered by weekday and start time.
func (s *Scheduler) Slots() []SlotDefinition {
	s.mu.RLock()
	list := make([]SlotDefinition, 0, len(s.slots))
	for _, def := range s.slots {
		list = append(list, def)
	}
	s.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Weekday != b.Weekday {
			return a.Weekday < b.Weekday
		}
		if a.StartHour != b.StartHour {
			return a.StartHour < b.StartHour
		}
		if a.StartMinute != b.StartMinute {
			return a.StartMinute < b.StartMinute
		}
		return a.Code < b.Code
	})
	return list
}

// Next returns the soonest occurrence of code whose reservation deadline is still ahead of now.
// Between the deadline and the event start the following week's occurrence is returned.
func (s *Scheduler) Next(code SlotCode, now time.Time) (Occurrence, error) {
	def, err := s.Definition(code)
	if err != nil {
		return Occurrence{}, err
	}
	local := now.In(s.loc)
	days := (int(def.Weekday) - int(local.Weekday()) + 7) % 7
	y, m, d := local.Date()
	occ := s.build(def, time.Date(y, m, d+days, 0, 0, 0, 0, s.loc))
	for !occ.OpenForReservation(now) {
		y, m, d = occ.EventStart.Date()
		occ = s.build(def, time.Date(y, m, d+7, 0, 0, 0, 0, s.loc))
	}
	return occ, nil
}

// At rebuilds the occurrence of code starting at eventStart.
// eventStart must fall exactly on the slot's weekday and start time in the operating timezone.
func (s *Scheduler) At(code SlotCode, eventStart time.Time) (Occurrence, error) {
	def, err := s.Definition(code)
	if err != nil {
		return Occurrence{}, err
	}
	local := eventStart.In(s.loc)
	if local.Weekday() != def.Weekday ||
		local.Hour() != def.StartHour ||
		local.Minute() != def.StartMinute ||
		local.Second() != 0 || local.Nanosecond() != 0 {
		return Occurrence{}, fmt.Errorf("%w: %s is not a %s pickup", ErrUnknownOccurrence, local.Format(time.RFC3339), def.Code)
	}
	return s.build(def, local), nil
}

func (s *Scheduler) build(def SlotDefinition, day time.Time) Occurrence {
	start := def.startOn(day, s.loc)
	deadline := start.Add(-s.cutoff)
	return Occurrence{
		SlotCode:            def.Code,
		EventStart:          start,
		EventEnd:            start.Add(def.Duration),
		ReservationDeadline: deadline,
		GraceUntil:          deadline.Add(s.grace),
	}
}
