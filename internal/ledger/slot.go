// Package ledger tracks per-slot seating capacity.
//
// A Slot never performs its own locking. Reserve and Release are only called
// by the booking transaction while it holds the slot's lock.
package ledger

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

// Key identifies a slot by calendar date and wall-clock time.
type Key struct {
	Date civil.Date
	Time civil.Time
}

// NewKey truncates t to the minute so keys compare equal regardless of how the
// time was parsed.
func NewKey(d civil.Date, t civil.Time) Key {
	return Key{Date: d, Time: civil.Time{Hour: t.Hour, Minute: t.Minute}}
}

func (k Key) String() string {
	return fmt.Sprintf("%s %02d:%02d", k.Date, k.Time.Hour, k.Time.Minute)
}

func (k Key) DateTime() civil.DateTime {
	return civil.DateTime{Date: k.Date, Time: k.Time}
}

// Less orders keys by date then time.
func (k Key) Less(o Key) bool {
	if k.Date != o.Date {
		return k.Date.Before(o.Date)
	}
	return minutes(k.Time) < minutes(o.Time)
}

// SortKeys sorts keys in the global lock order. Anything that ever needs more
// than one slot lock must acquire them in this order.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

type Slot struct {
	Date           civil.Date
	Time           civil.Time
	TotalCapacity  int
	BookedCapacity int
}

func (s Slot) Key() Key {
	return NewKey(s.Date, s.Time)
}

func (s Slot) RemainingCapacity() int {
	return s.TotalCapacity - s.BookedCapacity
}

func (s Slot) CanAccommodate(partySize int) bool {
	return s.RemainingCapacity() >= partySize
}

// Reserve books partySize seats. It fails with CapacityExceeded and leaves the
// slot untouched when the seats are not there.
func (s *Slot) Reserve(partySize int) error {
	if partySize < 1 {
		return apperr.Invariant("reserve", fmt.Sprintf("party size %d", partySize))
	}
	if !s.CanAccommodate(partySize) {
		return apperr.CapacityExceeded(
			fmt.Sprintf("slot %s has %d seats left, %d requested", s.Key(), s.RemainingCapacity(), partySize),
			nil,
		)
	}
	s.BookedCapacity += partySize
	return nil
}

// Release returns partySize seats, e.g. when a booking is cancelled.
func (s *Slot) Release(partySize int) error {
	if partySize < 1 || partySize > s.BookedCapacity {
		return apperr.Invariant("release", fmt.Sprintf("cannot release %d of %d booked seats on %s", partySize, s.BookedCapacity, s.Key()))
	}
	s.BookedCapacity -= partySize
	return nil
}

func minutes(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

func fromMinutes(m int) civil.Time {
	return civil.Time{Hour: m / 60, Minute: m % 60}
}
