// Package nlu turns a caller's utterance into field updates for the
// conversation. The LLM extractor is preferred; the pattern extractor works
// offline and is the last provider in the fallback chain.
package nlu

import (
	"context"

	"github.com/hackgods/voice-reservations/internal/conversation"
)

// Input is what an extractor sees for one utterance.
type Input struct {
	Utterance string
	Context   conversation.Context
	// Expecting is the field the last prompt asked for, if any. It lets
	// bare answers such as "four" or "Ada" be attributed.
	Expecting conversation.Field
}

type Extraction struct {
	Updates         []conversation.Update
	SpecialRequests string
}

// Has reports whether the extraction carries an update for f.
func (e Extraction) Has(f conversation.Field) bool {
	for _, u := range e.Updates {
		if u.Field == f {
			return true
		}
	}
	return false
}

type Extractor interface {
	Name() string
	Extract(ctx context.Context, in Input) (Extraction, error)
}
