package ledger

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/config"
)

// Generate lays out one slot per interval between the day's opening and
// closing time. A closed day yields no slots.
func Generate(date civil.Date, hours config.DayHours, interval time.Duration, capacity int) []Slot {
	step := int(interval / time.Minute)
	if !hours.IsOpen || step <= 0 {
		return nil
	}

	var slots []Slot
	for m := minutes(hours.Open); m < minutes(hours.Close); m += step {
		slots = append(slots, Slot{
			Date:          date,
			Time:          fromMinutes(m),
			TotalCapacity: capacity,
		})
	}
	return slots
}
