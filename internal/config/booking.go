package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DayHours is one weekday's opening window. Bookable times t satisfy
// Open <= t < Close. A zero value means closed.
type DayHours struct {
	Open   civil.Time
	Close  civil.Time
	IsOpen bool
}

func (h DayHours) String() string {
	if !h.IsOpen {
		return "closed"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", h.Open.Hour, h.Open.Minute, h.Close.Hour, h.Close.Minute)
}

// Contains reports whether t falls inside the window.
func (h DayHours) Contains(t civil.Time) bool {
	if !h.IsOpen {
		return false
	}
	m := Minutes(t)
	return Minutes(h.Open) <= m && m < Minutes(h.Close)
}

// Minutes returns minutes since midnight.
func Minutes(t civil.Time) int {
	return t.Hour*60 + t.Minute
}

// BookingRules are the business rules of the restaurant. The value is built
// once at startup and copied into every component that needs it.
type BookingRules struct {
	Hours              [7]DayHours // indexed by time.Weekday
	SlotInterval       time.Duration
	MaxPartySize       int
	BookingWindowDays  int
	DefaultCapacity    int
	CreateMissingSlots bool
	Location           *time.Location
}

func DefaultBookingRules() BookingRules {
	weekday := hours(11, 0, 22, 0)
	return BookingRules{
		Hours: [7]DayHours{
			time.Sunday:    hours(10, 0, 21, 0),
			time.Monday:    weekday,
			time.Tuesday:   weekday,
			time.Wednesday: weekday,
			time.Thursday:  weekday,
			time.Friday:    hours(11, 0, 23, 0),
			time.Saturday:  hours(10, 0, 23, 0),
		},
		SlotInterval:       30 * time.Minute,
		MaxPartySize:       8,
		BookingWindowDays:  30,
		DefaultCapacity:    50,
		CreateMissingSlots: true,
		Location:           time.UTC,
	}
}

func hours(openH, openM, closeH, closeM int) DayHours {
	return DayHours{
		Open:   civil.Time{Hour: openH, Minute: openM},
		Close:  civil.Time{Hour: closeH, Minute: closeM},
		IsOpen: true,
	}
}

// HoursOn returns the opening window for the weekday of d.
func (r BookingRules) HoursOn(d civil.Date) DayHours {
	return r.Hours[d.In(time.UTC).Weekday()]
}

// Today returns the restaurant-local calendar date at instant now.
func (r BookingRules) Today(now time.Time) civil.Date {
	return civil.DateOf(now.In(r.loc()))
}

// LocalNow returns now as a restaurant-local civil date-time.
func (r BookingRules) LocalNow(now time.Time) civil.DateTime {
	return civil.DateTimeOf(now.In(r.loc()))
}

func (r BookingRules) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

func (r BookingRules) Validate() error {
	var errs []error
	if r.SlotInterval < time.Minute {
		errs = append(errs, errors.New("slot interval must be at least one minute"))
	}
	if r.MaxPartySize < 1 {
		errs = append(errs, errors.New("max party size must be at least 1"))
	}
	if r.BookingWindowDays < 0 {
		errs = append(errs, errors.New("booking window must not be negative"))
	}
	if r.DefaultCapacity < 1 {
		errs = append(errs, errors.New("default slot capacity must be at least 1"))
	}
	for day, h := range r.Hours {
		if h.IsOpen && Minutes(h.Close) <= Minutes(h.Open) {
			errs = append(errs, fmt.Errorf("%s: close must be after open", time.Weekday(day)))
		}
	}
	return errors.Join(errs...)
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseOperatingHours parses "mon=11:00-22:00;tue=11:00-22:00;...". Days that
// are not listed are closed.
func ParseOperatingHours(raw string) ([7]DayHours, error) {
	var out [7]DayHours
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		day, span, ok := strings.Cut(entry, "=")
		if !ok {
			return out, fmt.Errorf("entry %q: want day=HH:MM-HH:MM", entry)
		}
		wd, ok := dayNames[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			return out, fmt.Errorf("entry %q: unknown day", entry)
		}
		openRaw, closeRaw, ok := strings.Cut(strings.TrimSpace(span), "-")
		if !ok {
			return out, fmt.Errorf("entry %q: want HH:MM-HH:MM", entry)
		}
		open, err := ParseClock(openRaw)
		if err != nil {
			return out, fmt.Errorf("entry %q: %w", entry, err)
		}
		closing, err := ParseClock(closeRaw)
		if err != nil {
			return out, fmt.Errorf("entry %q: %w", entry, err)
		}
		if Minutes(closing) <= Minutes(open) {
			return out, fmt.Errorf("entry %q: close must be after open", entry)
		}
		out[wd] = DayHours{Open: open, Close: closing, IsOpen: true}
	}
	return out, nil
}

// ParseClock parses a 24h "HH:MM" wall-clock time.
func ParseClock(raw string) (civil.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return civil.Time{}, fmt.Errorf("parse time %q: want HH:MM", raw)
	}
	return civil.Time{Hour: t.Hour(), Minute: t.Minute()}, nil
}
