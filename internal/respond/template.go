package respond

import (
	"context"
	"fmt"
	"strings"

	"github.com/hackgods/voice-reservations/internal/conversation"
)

// TemplateResponder answers from fixed phrases. It never fails, which makes
// it the last provider of the response chain.
type TemplateResponder struct{}

func NewTemplateResponder() *TemplateResponder { return &TemplateResponder{} }

func (TemplateResponder) Name() string { return "template" }

func (TemplateResponder) Respond(_ context.Context, req Request) (string, error) {
	c := req.Context

	switch req.Intent {
	case IntentGreeting:
		return fmt.Sprintf("Hello! This is %s. I can help you make a reservation today. What date would you like to come in?", AgentName), nil

	case IntentConfirming:
		return confirmation(c), nil

	case IntentChange:
		return "No problem. What would you like to change?", nil

	case IntentCompleted:
		msg := "Perfect! Your reservation is confirmed."
		if req.Booking != nil {
			msg += fmt.Sprintf(" Your confirmation code is %s.", spell(req.Booking.ConfirmationCode))
		}
		return msg + " We look forward to seeing you!", nil

	case IntentNoAvailability:
		msg := "I'm sorry, we don't have availability at that time."
		if alts := FormatAlternatives(c.Date, req.Alternatives); alts != "" {
			return msg + " I could offer " + alts + ". Would one of those work?", nil
		}
		return msg + " Would you like to try a different date or time?", nil

	case IntentInvalid:
		msg := "I'm sorry, that doesn't work."
		if req.Problem != "" {
			msg = "I'm sorry, " + strings.TrimSuffix(req.Problem, ".") + "."
		}
		return msg + " " + question(req.State, c), nil

	case IntentClarification:
		return "I'm sorry, could you repeat that? " + question(req.State, c), nil

	case IntentUnavailable:
		return "I'm sorry, I'm having trouble reaching our reservation system right now. Please try calling back in a few minutes.", nil

	case IntentGoodbye:
		return "Thank you for calling! Have a wonderful day.", nil

	default:
		return question(req.State, c), nil
	}
}

func question(state conversation.State, c conversation.Context) string {
	switch state {
	case conversation.StateCollectingDate:
		return "What date would you like to make your reservation for?"
	case conversation.StateCollectingTime:
		if c.Date != nil {
			return fmt.Sprintf("What time works best for you on %s?", FormatDate(*c.Date))
		}
		return "What time works best for you?"
	case conversation.StateCollectingPartySize:
		return "How many people will be dining with us?"
	case conversation.StateCollectingName:
		return "Can I get your name for the reservation?"
	case conversation.StateCollectingPhone:
		if c.Name != nil {
			return fmt.Sprintf("Thanks, %s. And a phone number where we can reach you?", firstName(*c.Name))
		}
		return "And a phone number where we can reach you?"
	case conversation.StateConfirming:
		return confirmation(c)
	default:
		return "I'm here to help with your reservation."
	}
}

func confirmation(c conversation.Context) string {
	if !c.IsComplete() {
		return "Let me confirm those details. Does everything sound correct?"
	}
	return fmt.Sprintf("Let me confirm: a table for %s on %s at %s, under the name %s, phone number %s. Does everything sound correct?",
		people(*c.PartySize), FormatDate(*c.Date), FormatTime(*c.Time), *c.Name, *c.Phone)
}

func firstName(name string) string {
	if f := strings.Fields(name); len(f) > 0 {
		return f[0]
	}
	return name
}

// spell separates characters so a speech engine reads a code one by one.
func spell(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}
