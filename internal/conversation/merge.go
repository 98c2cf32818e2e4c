package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
)

// Update is one field extracted from an utterance. Correction is the
// extractor's hint that the caller is changing an earlier answer; any update
// of a filled field is treated as a correction either way.
type Update struct {
	Field      Field
	Value      string
	Correction bool
}

type Rejection struct {
	Field Field
	Value string
	Err   error
}

type MergeResult struct {
	Filled    []Field
	Corrected []Field
	Unchanged []Field
	Rejected  []Rejection
}

// Changed reports whether the merge modified the context.
func (r MergeResult) Changed() bool {
	return len(r.Filled) > 0 || len(r.Corrected) > 0
}

// Merge applies updates to a copy of ctx. A value that fails to parse or is
// out of range leaves its field untouched and is reported in Rejected. Fields
// are independent so the order of updates does not matter.
func Merge(ctx Context, updates []Update, rules config.BookingRules) (Context, MergeResult) {
	out := ctx.Clone()
	var res MergeResult

	for _, u := range updates {
		if strings.TrimSpace(u.Value) == "" {
			continue
		}

		next := out.Clone()
		if err := set(&next, u.Field, u.Value, rules); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Field: u.Field, Value: u.Value, Err: err})
			continue
		}

		switch {
		case !out.Has(u.Field):
			res.Filled = append(res.Filled, u.Field)
		case out.Value(u.Field) == next.Value(u.Field):
			res.Unchanged = append(res.Unchanged, u.Field)
			continue
		default:
			res.Corrected = append(res.Corrected, u.Field)
		}
		out = next
	}

	return out, res
}

func set(c *Context, f Field, raw string, rules config.BookingRules) error {
	raw = strings.TrimSpace(raw)

	switch f {
	case FieldDate:
		d, err := civil.ParseDate(raw)
		if err != nil {
			return apperr.Validation(string(f), apperr.RuleFormat, fmt.Sprintf("%q is not a YYYY-MM-DD date", raw))
		}
		c.Date = &d

	case FieldTime:
		t, err := ParseClockTime(raw)
		if err != nil {
			return err
		}
		c.Time = &t

	case FieldPartySize:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.Validation(string(f), apperr.RuleFormat, fmt.Sprintf("%q is not a number", raw))
		}
		if n < 1 {
			return apperr.Validation(string(f), apperr.RulePartyTooSmall, "party size must be at least 1")
		}
		if n > rules.MaxPartySize {
			return apperr.Validation(string(f), apperr.RulePartyTooLarge,
				fmt.Sprintf("party size %d exceeds maximum %d", n, rules.MaxPartySize))
		}
		c.PartySize = &n

	case FieldName:
		name, err := booking.NormalizeName(raw)
		if err != nil {
			return err
		}
		c.Name = &name

	case FieldPhone:
		phone, err := booking.NormalizePhone(raw)
		if err != nil {
			return err
		}
		c.Phone = &phone

	default:
		return apperr.Validation(string(f), apperr.RuleFormat, "unknown field")
	}
	return nil
}

// ParseClockTime accepts 24h "HH:MM" and returns it truncated to the minute.
func ParseClockTime(raw string) (civil.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return civil.Time{}, apperr.Validation(string(FieldTime), apperr.RuleFormat, fmt.Sprintf("%q is not an HH:MM time", raw))
	}
	return civil.Time{Hour: t.Hour(), Minute: t.Minute()}, nil
}

var (
	negativeWords = map[string]bool{"no": true, "nope": true, "wrong": true, "not": true, "change": true, "incorrect": true, "wait": true}
	positiveWords = map[string]bool{"yes": true, "correct": true, "confirm": true, "right": true, "yep": true, "yeah": true, "sure": true, "ok": true, "okay": true}
)

// ParseConfirmation reads a yes or no out of an utterance. Negative words win
// over positive ones, so "no that's not right" is a no.
func ParseConfirmation(utterance string) Confirmation {
	words := strings.FieldsFunc(strings.ToLower(utterance), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '\'')
	})

	positive := false
	for _, w := range words {
		if negativeWords[w] || w == "don't" || w == "isn't" {
			return ConfirmNo
		}
		if positiveWords[w] {
			positive = true
		}
	}
	if positive {
		return ConfirmYes
	}
	return ConfirmUnclear
}
