// Package conversation owns the dialogue state of one reservation call: which
// field is being collected, the details gathered so far, and how extracted
// updates are merged into them.
package conversation

import (
	"fmt"

	"github.com/hackgods/voice-reservations/internal/apperr"
)

type State int

const (
	StateGreeting State = iota
	StateCollectingDate
	StateCollectingTime
	StateCollectingPartySize
	StateCollectingName
	StateCollectingPhone
	StateConfirming
	StateCompleted
)

var stateNames = map[State]string{
	StateGreeting:            "greeting",
	StateCollectingDate:      "collecting_date",
	StateCollectingTime:      "collecting_time",
	StateCollectingPartySize: "collecting_party_size",
	StateCollectingName:      "collecting_name",
	StateCollectingPhone:     "collecting_phone",
	StateConfirming:          "confirming",
	StateCompleted:           "completed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool { return s == StateCompleted }

type Field string

const (
	FieldDate      Field = "date"
	FieldTime      Field = "time"
	FieldPartySize Field = "party_size"
	FieldName      Field = "name"
	FieldPhone     Field = "phone"
)

// FieldOrder is the order in which missing fields are asked for.
var FieldOrder = []Field{FieldDate, FieldTime, FieldPartySize, FieldName, FieldPhone}

// CollectingState is the state that asks for f.
func (f Field) CollectingState() State {
	switch f {
	case FieldDate:
		return StateCollectingDate
	case FieldTime:
		return StateCollectingTime
	case FieldPartySize:
		return StateCollectingPartySize
	case FieldName:
		return StateCollectingName
	default:
		return StateCollectingPhone
	}
}

// Advance picks the state after current given ctx. A complete context goes to
// confirming; otherwise the first missing field in FieldOrder is collected.
// Leaving the completed state is a programming error.
func Advance(current State, ctx Context) (State, error) {
	if current.Terminal() {
		return current, apperr.Invariant("advance", "no transition out of "+current.String())
	}
	if _, ok := stateNames[current]; !ok {
		return current, apperr.Invariant("advance", "unknown "+current.String())
	}

	missing := ctx.Missing()
	if len(missing) == 0 {
		return StateConfirming, nil
	}
	return missing[0].CollectingState(), nil
}

type Confirmation int

const (
	ConfirmUnclear Confirmation = iota
	ConfirmYes
	ConfirmNo
)

func (c Confirmation) String() string {
	switch c {
	case ConfirmYes:
		return "yes"
	case ConfirmNo:
		return "no"
	default:
		return "unclear"
	}
}

// Confirm handles the caller's answer to the read-back. Only an explicit yes
// on a complete context completes the conversation; anything else re-runs
// Advance.
func Confirm(current State, ctx Context, answer Confirmation) (State, error) {
	if current.Terminal() {
		return current, apperr.Invariant("confirm", "no transition out of "+current.String())
	}
	if current != StateConfirming {
		return current, apperr.Invariant("confirm", "confirmation received in "+current.String())
	}
	if answer == ConfirmYes && ctx.IsComplete() {
		return StateCompleted, nil
	}
	return Advance(current, ctx)
}
