package ledger

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

// AlternativeRadius is how many intervals either side of the requested time
// are considered.
const AlternativeRadius = 2

// SuggestAlternatives picks up to limit slots that can seat partySize instead
// of the requested one. Same-day neighbours within AlternativeRadius intervals
// come first, nearest first and later before earlier at equal distance. Only
// when none qualify is the next day searched, around the same time. Slots at
// or before notAfter are skipped.
func SuggestAlternatives(requested Key, partySize int, interval time.Duration, sameDay, nextDay []Slot, notAfter civil.DateTime, limit int) []Slot {
	step := int(interval / time.Minute)
	if step <= 0 || limit <= 0 {
		return nil
	}

	pick := func(slots []Slot, offsets []int) []Slot {
		byMinute := make(map[int]Slot, len(slots))
		for _, s := range slots {
			byMinute[minutes(s.Time)] = s
		}
		var out []Slot
		for _, off := range offsets {
			s, ok := byMinute[minutes(requested.Time)+off*step]
			if !ok || !s.CanAccommodate(partySize) {
				continue
			}
			if !s.Key().DateTime().After(notAfter) {
				continue
			}
			out = append(out, s)
			if len(out) == limit {
				break
			}
		}
		return out
	}

	neighbours := make([]int, 0, 2*AlternativeRadius)
	for d := 1; d <= AlternativeRadius; d++ {
		neighbours = append(neighbours, d, -d)
	}

	if out := pick(sameDay, neighbours); len(out) > 0 {
		return out
	}
	return pick(nextDay, append([]int{0}, neighbours...))
}

// ToAlternatives converts slots into the payload carried by a CapacityExceeded
// error.
func ToAlternatives(slots []Slot) []apperr.Alternative {
	out := make([]apperr.Alternative, 0, len(slots))
	for _, s := range slots {
		out = append(out, apperr.Alternative{Date: s.Date, Time: s.Time, Remaining: s.RemainingCapacity()})
	}
	return out
}
