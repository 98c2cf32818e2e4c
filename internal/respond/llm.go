package respond

import (
	"context"
	"fmt"
	"strings"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/llm"
)

const personality = `You are Alex, a friendly and professional restaurant host taking reservations by phone.
Keep responses to one to three short sentences that sound natural when spoken aloud.
Say times like "7 PM" and dates like "Friday, March 14". Use contractions.
Always reference what the caller has already told you and end with a clear question when you need an answer.`

var instructions = map[Intent]string{
	IntentGreeting:       "Greet the caller warmly, introduce yourself and offer to help with a reservation.",
	IntentConfirming:     "Read back every booking detail and ask whether it is all correct.",
	IntentChange:         "Acknowledge that something is wrong and ask what the caller would like to change.",
	IntentCompleted:      "Tell the caller the reservation is confirmed, give the confirmation code and thank them.",
	IntentNoAvailability: "Apologise that the requested time is full and offer the alternative times.",
	IntentInvalid:        "Explain briefly what was wrong with the answer and ask for it again.",
	IntentClarification:  "Politely ask the caller to repeat themselves.",
	IntentUnavailable:    "Apologise that the reservation system cannot be reached and suggest calling back shortly.",
	IntentGoodbye:        "Say a warm goodbye.",
}

// LLMResponder phrases responses with a language model.
type LLMResponder struct {
	gen llm.Generator
}

func NewLLMResponder(gen llm.Generator) *LLMResponder {
	return &LLMResponder{gen: gen}
}

func (r *LLMResponder) Name() string { return "llm" }

func (r *LLMResponder) Respond(ctx context.Context, req Request) (string, error) {
	text, err := r.gen.Generate(ctx, Prompt(req))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(strings.Trim(text, `"`))
	if text == "" {
		return "", apperr.Transient("llm respond", llm.ErrEmptyResponse)
	}
	return text, nil
}

// Prompt builds the generation prompt for req.
func Prompt(req Request) string {
	var b strings.Builder
	b.WriteString(personality)
	b.WriteString("\n\n")

	instruction, ok := instructions[req.Intent]
	if !ok {
		instruction = fmt.Sprintf("Ask the caller for the next detail. The conversation is in the %s step.", req.State)
	}
	b.WriteString("Task: ")
	b.WriteString(instruction)
	b.WriteString("\nAlready collected: ")
	b.WriteString(Summary(req.Context))
	b.WriteString("\n")

	if req.Problem != "" {
		fmt.Fprintf(&b, "Problem with the last answer: %s\n", req.Problem)
	}
	if alts := FormatAlternatives(req.Context.Date, req.Alternatives); alts != "" {
		fmt.Fprintf(&b, "Alternative times: %s\n", alts)
	}
	if req.Booking != nil {
		fmt.Fprintf(&b, "Confirmation code: %s\n", req.Booking.ConfirmationCode)
	}
	if req.Context.SpecialRequests != "" {
		fmt.Fprintf(&b, "Special requests: %s\n", req.Context.SpecialRequests)
	}

	b.WriteString("\nRespond with only what Alex says:")
	return b.String()
}
