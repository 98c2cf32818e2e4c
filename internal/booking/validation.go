package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
)

const maxNameLength = 100

var (
	phoneStrip   = regexp.MustCompile(`[\s\-\(\)\.]`)
	phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)
)

// NormalizePhone strips separators and checks the result is 10 to 15 digits
// with an optional leading plus.
func NormalizePhone(raw string) (string, error) {
	phone := phoneStrip.ReplaceAllString(strings.TrimSpace(raw), "")
	if phone == "" {
		return "", apperr.Validation("customer_phone", apperr.RuleRequired, "phone number is required")
	}
	if !phonePattern.MatchString(phone) {
		return "", apperr.Validation("customer_phone", apperr.RuleFormat, "phone number must have 10 to 15 digits")
	}
	return phone, nil
}

// NormalizeName trims the name and checks it is present and not too long.
func NormalizeName(raw string) (string, error) {
	name := strings.Join(strings.Fields(raw), " ")
	if name == "" {
		return "", apperr.Validation("customer_name", apperr.RuleRequired, "name is required")
	}
	if len(name) > maxNameLength {
		return "", apperr.Validation("customer_name", apperr.RuleFormat, fmt.Sprintf("name is longer than %d characters", maxNameLength))
	}
	return name, nil
}

// CheckSchedule applies the date, party size and operating hours rules in a
// fixed order and reports the first one broken.
func CheckSchedule(rules config.BookingRules, now time.Time, date civil.Date, at civil.Time, partySize int) error {
	today := rules.Today(now)

	if date.Before(today) {
		return apperr.Validation("date", apperr.RulePastDate, "booking date cannot be in the past")
	}

	if date.After(today.AddDays(rules.BookingWindowDays)) {
		return apperr.Validation("date", apperr.RuleBeyondWindow,
			fmt.Sprintf("beyond booking window: bookings can only be made up to %d days in advance", rules.BookingWindowDays))
	}

	if partySize < 1 {
		return apperr.Validation("party_size", apperr.RulePartyTooSmall, "party size must be at least 1")
	}

	if partySize > rules.MaxPartySize {
		return apperr.Validation("party_size", apperr.RulePartyTooLarge,
			fmt.Sprintf("party size %d exceeds maximum %d", partySize, rules.MaxPartySize))
	}

	hours := rules.HoursOn(date)
	if !hours.IsOpen {
		return apperr.Validation("date", apperr.RuleClosed,
			fmt.Sprintf("restaurant is closed on %ss", date.In(time.UTC).Weekday()))
	}

	if !hours.Contains(at) {
		return apperr.Validation("time", apperr.RuleOutsideHours,
			fmt.Sprintf("requested time is outside operating hours (%s)", hours))
	}

	if date == today && config.Minutes(at) <= config.Minutes(rules.LocalNow(now).Time) {
		return apperr.Validation("time", apperr.RulePastDate, "requested time has already passed today")
	}

	return nil
}
