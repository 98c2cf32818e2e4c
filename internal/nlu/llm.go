package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/conversation"
	"github.com/hackgods/voice-reservations/internal/llm"
)

const extractionInstructions = `You extract restaurant booking details from what a caller said.

Fields:
- date: booking date as YYYY-MM-DD. Resolve relative dates ("tomorrow", "this Friday", "the 15th") against the current date.
- time: booking time as 24-hour HH:MM. "7 PM" is 19:00; "dinner" is 19:00.
- party_size: number of people as an integer.
- name: the caller's name.
- phone: the caller's phone number as spoken.
- special_requests: seating, dietary or occasion notes.

Set is_correction to true when the caller changes an earlier answer ("actually", "instead", "make that").
Use null for anything not mentioned. Return only a JSON object:
{"date": null, "time": null, "party_size": null, "name": null, "phone": null, "special_requests": null, "is_correction": false}`

type llmExtraction struct {
	Date            *string         `json:"date"`
	Time            *string         `json:"time"`
	PartySize       json.RawMessage `json:"party_size"`
	Name            *string         `json:"name"`
	Phone           *string         `json:"phone"`
	SpecialRequests *string         `json:"special_requests"`
	IsCorrection    bool            `json:"is_correction"`
}

// LLMExtractor asks a language model for the fields as JSON.
type LLMExtractor struct {
	gen   llm.Generator
	rules config.BookingRules
	now   func() time.Time
}

func NewLLMExtractor(gen llm.Generator, rules config.BookingRules, now func() time.Time) *LLMExtractor {
	if now == nil {
		now = time.Now
	}
	return &LLMExtractor{gen: gen, rules: rules, now: now}
}

func (e *LLMExtractor) Name() string { return "llm" }

func (e *LLMExtractor) Extract(ctx context.Context, in Input) (Extraction, error) {
	raw, err := e.gen.GenerateJSON(ctx, e.prompt(in))
	if err != nil {
		return Extraction{}, err
	}

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return Extraction{}, apperr.Dependency("llm extract", fmt.Errorf("decode model output: %w", err))
	}

	var out Extraction
	add := func(f conversation.Field, v *string) {
		if v == nil || strings.TrimSpace(*v) == "" {
			return
		}
		out.Updates = append(out.Updates, conversation.Update{
			Field:      f,
			Value:      strings.TrimSpace(*v),
			Correction: parsed.IsCorrection || in.Context.Has(f),
		})
	}

	add(conversation.FieldDate, parsed.Date)
	add(conversation.FieldTime, parsed.Time)
	if n, ok := partySizeValue(parsed.PartySize); ok {
		add(conversation.FieldPartySize, &n)
	}
	add(conversation.FieldName, parsed.Name)
	add(conversation.FieldPhone, parsed.Phone)

	if parsed.SpecialRequests != nil {
		out.SpecialRequests = strings.TrimSpace(*parsed.SpecialRequests)
	}
	return out, nil
}

func (e *LLMExtractor) prompt(in Input) string {
	var b strings.Builder
	b.WriteString(extractionInstructions)
	b.WriteString("\n\nCurrent date: ")
	today := e.rules.Today(e.now())
	b.WriteString(today.String())
	b.WriteString(" (")
	b.WriteString(today.In(time.UTC).Weekday().String())
	b.WriteString(")\n")

	var known []string
	for _, f := range conversation.FieldOrder {
		if in.Context.Has(f) {
			known = append(known, fmt.Sprintf("  - %s: %s", f, in.Context.Value(f)))
		}
	}
	if len(known) > 0 {
		b.WriteString("Previously collected:\n")
		b.WriteString(strings.Join(known, "\n"))
		b.WriteString("\nCheck whether the caller is correcting any of these.\n")
	}
	if in.Expecting != "" {
		fmt.Fprintf(&b, "The caller was just asked for: %s\n", in.Expecting)
	}

	fmt.Fprintf(&b, "\nCaller said: %q\n", in.Utterance)
	return b.String()
}

// partySizeValue accepts a JSON number or a numeric string.
func partySizeValue(raw json.RawMessage) (string, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return "", false
	}
	if _, err := strconv.Atoi(s); err != nil {
		return "", false
	}
	return s, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
