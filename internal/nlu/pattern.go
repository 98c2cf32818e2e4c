package nlu

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"

	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/conversation"
)

var (
	isoDateRe    = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dayOfMonthRe = regexp.MustCompile(`\b(?:the\s+)?(\d{1,2})(?:st|nd|rd|th)\b`)
	ampmRe       = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	clockRe      = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	atHourRe     = regexp.MustCompile(`\b(?:at|around|about)\s+(\d{1,2})\b`)
	partyRes     = []*regexp.Regexp{
		regexp.MustCompile(`\bparty\s+of\s+(\w+)`),
		regexp.MustCompile(`\btable\s+for\s+(\w+)`),
		regexp.MustCompile(`\breservation\s+for\s+(\w+)`),
		regexp.MustCompile(`\b(\w+)\s+(?:people|guests|persons|ppl|of us)\b`),
		regexp.MustCompile(`\bfor\s+(\w+)\b`),
	}
	nameRe   = regexp.MustCompile(`(?i)\b(?:my name is|name is|this is|it's under|under the name|the name's)\s+([a-z][a-z'\-]*(?:\s+[a-z][a-z'\-]*){0,3})`)
	phoneRe  = regexp.MustCompile(`\+?\d[\d\s\-\(\)\.]{8,}\d`)
	digitsRe = regexp.MustCompile(`\d`)
	wordsRe  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z'\-]*(?:\s+[a-zA-Z][a-zA-Z'\-]*){0,3}$`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"a": 1, "an": 1, "couple": 2,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

var mealTimes = []struct {
	word string
	at   civil.Time
}{
	{"lunchtime", civil.Time{Hour: 12}},
	{"lunch", civil.Time{Hour: 12}},
	{"noon", civil.Time{Hour: 12}},
	{"brunch", civil.Time{Hour: 11}},
	{"dinner", civil.Time{Hour: 19}},
	{"evening", civil.Time{Hour: 19}},
	{"afternoon", civil.Time{Hour: 14}},
}

var correctionMarkers = []string{"actually", "wait", "instead", "change", "i meant", "correction", "make that", "make it"}

var specialRequestMarkers = []string{
	"window", "booth", "patio", "outside", "quiet", "birthday", "anniversary", "high chair",
	"wheelchair", "allerg", "vegetarian", "vegan", "gluten",
}

// PatternExtractor recognises common phrasings with regular expressions.
type PatternExtractor struct {
	rules config.BookingRules
	now   func() time.Time
}

func NewPatternExtractor(rules config.BookingRules, now func() time.Time) *PatternExtractor {
	if now == nil {
		now = time.Now
	}
	return &PatternExtractor{rules: rules, now: now}
}

func (p *PatternExtractor) Name() string { return "pattern" }

func (p *PatternExtractor) Extract(_ context.Context, in Input) (Extraction, error) {
	text := strings.ToLower(strings.TrimSpace(in.Utterance))
	if text == "" {
		return Extraction{}, nil
	}

	correcting := containsAny(text, correctionMarkers)
	var out Extraction
	add := func(f conversation.Field, value string) {
		out.Updates = append(out.Updates, conversation.Update{
			Field:      f,
			Value:      value,
			Correction: correcting || in.Context.Has(f),
		})
	}

	// phone first so its digits are not read as a party size or time
	rest := text
	if m := phoneRe.FindString(text); m != "" {
		if n := len(digitsRe.FindAllString(m, -1)); n >= 10 && n <= 15 {
			add(conversation.FieldPhone, strings.TrimSpace(m))
			rest = strings.Replace(rest, m, " ", 1)
		}
	}

	if d, ok := p.date(rest); ok {
		add(conversation.FieldDate, d.String())
		rest = isoDateRe.ReplaceAllString(rest, " ")
	}

	if t, ok := parseTime(rest, in.Expecting == conversation.FieldTime); ok {
		add(conversation.FieldTime, fmt.Sprintf("%02d:%02d", t.Hour, t.Minute))
		rest = ampmRe.ReplaceAllString(rest, " ")
		rest = clockRe.ReplaceAllString(rest, " ")
		rest = atHourRe.ReplaceAllString(rest, " ")
	}

	if n, ok := partySize(rest, in.Expecting == conversation.FieldPartySize); ok {
		add(conversation.FieldPartySize, strconv.Itoa(n))
	}

	if m := nameRe.FindStringSubmatch(in.Utterance); m != nil && trimName(m[1]) != "" {
		add(conversation.FieldName, titleCase(trimName(m[1])))
	} else if in.Expecting == conversation.FieldName && len(out.Updates) == 0 {
		candidate := strings.TrimSpace(strings.Trim(in.Utterance, ".!?"))
		if wordsRe.MatchString(candidate) {
			add(conversation.FieldName, titleCase(candidate))
		}
	}

	if containsAny(text, specialRequestMarkers) {
		out.SpecialRequests = strings.TrimSpace(in.Utterance)
	}

	return out, nil
}

func (p *PatternExtractor) date(text string) (civil.Date, bool) {
	today := p.rules.Today(p.now())

	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if d, err := civil.ParseDate(m[1]); err == nil {
			return d, true
		}
	}

	switch {
	case strings.Contains(text, "day after tomorrow"):
		return today.AddDays(2), true
	case containsWord(text, "tomorrow") || containsWord(text, "tmrw"):
		return today.AddDays(1), true
	case containsWord(text, "today") || containsWord(text, "tonight"):
		return today, true
	}

	for _, word := range strings.Fields(text) {
		wd, ok := weekdays[strings.Trim(word, ",.!?")]
		if !ok {
			continue
		}
		ahead := (int(wd) - int(today.In(time.UTC).Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		if containsWord(text, "next") || containsWord(text, "following") {
			ahead += 7
		}
		return today.AddDays(ahead), true
	}

	if containsWord(text, "next week") {
		return today.AddDays(7), true
	}

	if m := dayOfMonthRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		if day >= 1 && day <= 31 {
			return nextDayOfMonth(today, day)
		}
	}

	return civil.Date{}, false
}

// nextDayOfMonth finds the first date on or after today with the given day
// of month, looking at most two months ahead.
func nextDayOfMonth(today civil.Date, day int) (civil.Date, bool) {
	for i := 0; i < 3; i++ {
		month := time.Month(int(today.Month)-1+i)%12 + 1
		year := today.Year + (int(today.Month)-1+i)/12
		d := civil.Date{Year: year, Month: month, Day: day}
		if d.IsValid() && !d.Before(today) {
			return d, true
		}
	}
	return civil.Date{}, false
}

func parseTime(text string, expecting bool) (civil.Time, bool) {
	if m := ampmRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return civil.Time{}, false
		}
		pm := strings.HasPrefix(m[3], "p")
		switch {
		case pm && hour != 12:
			hour += 12
		case !pm && hour == 12:
			hour = 0
		}
		return civil.Time{Hour: hour, Minute: minute}, true
	}

	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return civil.Time{Hour: eveningHour(hour), Minute: minute}, true
	}

	if m := atHourRe.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour <= 23 {
			return civil.Time{Hour: eveningHour(hour)}, true
		}
	}

	for _, meal := range mealTimes {
		if strings.Contains(text, meal.word) {
			return meal.at, true
		}
	}

	if expecting {
		if hour, ok := numberIn(strings.Fields(text)); ok && hour <= 12 {
			return civil.Time{Hour: eveningHour(hour)}, true
		}
	}
	return civil.Time{}, false
}

// eveningHour reads an hour given without am or pm between 5 and 11 as an
// evening hour, the usual meaning for a dinner booking.
func eveningHour(hour int) int {
	if hour >= 5 && hour <= 11 {
		return hour + 12
	}
	return hour
}

func partySize(text string, expecting bool) (int, bool) {
	for _, re := range partyRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, ok := parseNumber(m[1]); ok && n >= 1 && n <= 20 {
				return n, true
			}
		}
	}

	if expecting {
		if n, ok := numberIn(strings.Fields(text)); ok && n >= 1 && n <= 20 {
			return n, true
		}
	}
	return 0, false
}

func numberIn(words []string) (int, bool) {
	for _, w := range words {
		w = strings.Trim(w, ",.!?")
		if w == "a" || w == "an" {
			continue
		}
		if n, ok := parseNumber(w); ok {
			return n, true
		}
	}
	return 0, false
}

func parseNumber(s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	n, ok := numberWords[s]
	return n, ok
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	return strings.Contains(" "+strings.Join(fields, " ")+" ", " "+word+" ")
}

var nameStopWords = map[string]bool{
	"and": true, "calling": true, "for": true, "at": true, "on": true, "with": true,
	"my": true, "phone": true, "number": true, "i": true, "here": true, "speaking": true,
}

// trimName cuts a captured name at the first word that cannot be part of it.
func trimName(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if nameStopWords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
