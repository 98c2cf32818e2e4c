package conversation

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
)

func ptr[T any](v T) *T { return &v }

func fullContext() Context {
	return Context{
		Date:      ptr(civil.Date{Year: 2025, Month: 3, Day: 14}),
		Time:      ptr(civil.Time{Hour: 19}),
		PartySize: ptr(4),
		Name:      ptr("Ada Lovelace"),
		Phone:     ptr("5551234567"),
	}
}

func TestAdvanceIsTotal(t *testing.T) {
	nonTerminal := []State{
		StateGreeting, StateCollectingDate, StateCollectingTime, StateCollectingPartySize,
		StateCollectingName, StateCollectingPhone, StateConfirming,
	}

	// every subset of filled fields
	for mask := 0; mask < 1<<len(FieldOrder); mask++ {
		ctx := fullContext()
		var cleared []Field
		for i, f := range FieldOrder {
			if mask&(1<<i) != 0 {
				cleared = append(cleared, f)
			}
		}
		ctx.Clear(cleared...)

		want := StateConfirming
		if len(cleared) > 0 {
			want = cleared[0].CollectingState()
		}

		for _, s := range nonTerminal {
			got, err := Advance(s, ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got, "from %s with %v missing", s, cleared)
		}

		_, err := Advance(StateCompleted, ctx)
		assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)
	}
}

func TestConfirm(t *testing.T) {
	ctx := fullContext()

	next, err := Confirm(StateConfirming, ctx, ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, next)

	for _, answer := range []Confirmation{ConfirmNo, ConfirmUnclear} {
		next, err = Confirm(StateConfirming, ctx, answer)
		require.NoError(t, err)
		assert.Equal(t, StateConfirming, next)
	}

	partial := ctx.Clone()
	partial.Clear(FieldTime)
	next, err = Confirm(StateConfirming, partial, ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, StateCollectingTime, next)

	_, err = Confirm(StateCollectingName, ctx, ConfirmYes)
	assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)

	_, err = Confirm(StateCompleted, ctx, ConfirmYes)
	assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)
}

func TestMerge(t *testing.T) {
	rules := config.DefaultBookingRules()

	t.Run("fills several fields at once", func(t *testing.T) {
		ctx, res := Merge(Context{}, []Update{
			{Field: FieldPartySize, Value: "4"},
			{Field: FieldDate, Value: "2025-03-14"},
			{Field: FieldTime, Value: "19:30"},
		}, rules)

		assert.ElementsMatch(t, []Field{FieldDate, FieldTime, FieldPartySize}, res.Filled)
		assert.Empty(t, res.Rejected)
		assert.Equal(t, "2025-03-14", ctx.Value(FieldDate))
		assert.Equal(t, "19:30", ctx.Value(FieldTime))
		assert.Equal(t, 4, *ctx.PartySize)
	})

	t.Run("overwrite is a correction", func(t *testing.T) {
		ctx, res := Merge(fullContext(), []Update{{Field: FieldPartySize, Value: "6", Correction: true}}, rules)
		assert.Equal(t, []Field{FieldPartySize}, res.Corrected)
		assert.Equal(t, 6, *ctx.PartySize)
	})

	t.Run("invalid value leaves context unchanged", func(t *testing.T) {
		before := fullContext()
		ctx, res := Merge(before, []Update{{Field: FieldPartySize, Value: "12"}}, rules)

		require.Len(t, res.Rejected, 1)
		assert.Equal(t, FieldPartySize, res.Rejected[0].Field)
		e, ok := apperr.As(res.Rejected[0].Err)
		require.True(t, ok)
		assert.Equal(t, apperr.RulePartyTooLarge, e.Rule)
		assert.Equal(t, before, ctx)
	})

	t.Run("rejections do not block other fields", func(t *testing.T) {
		ctx, res := Merge(Context{}, []Update{
			{Field: FieldPhone, Value: "12"},
			{Field: FieldName, Value: "  Grace   Hopper "},
		}, rules)
		assert.Equal(t, []Field{FieldName}, res.Filled)
		require.Len(t, res.Rejected, 1)
		assert.Equal(t, "Grace Hopper", *ctx.Name)
		assert.Nil(t, ctx.Phone)
	})

	t.Run("phone is normalised", func(t *testing.T) {
		ctx, _ := Merge(Context{}, []Update{{Field: FieldPhone, Value: "(555) 123-4567"}}, rules)
		assert.Equal(t, "5551234567", *ctx.Phone)
	})

	t.Run("bad formats", func(t *testing.T) {
		_, res := Merge(Context{}, []Update{
			{Field: FieldDate, Value: "next friday"},
			{Field: FieldTime, Value: "7pm"},
			{Field: FieldPartySize, Value: "zero"},
			{Field: FieldPartySize, Value: "0"},
		}, rules)
		assert.Len(t, res.Rejected, 4)
		assert.Empty(t, res.Filled)
	})

	t.Run("input context is not mutated", func(t *testing.T) {
		before := fullContext()
		_, _ = Merge(before, []Update{{Field: FieldName, Value: "Someone Else"}}, rules)
		assert.Equal(t, "Ada Lovelace", *before.Name)
	})
}

func TestCorrectionIsIdempotent(t *testing.T) {
	rules := config.DefaultBookingRules()
	correction := []Update{{Field: FieldTime, Value: "20:00", Correction: true}}

	once, first := Merge(fullContext(), correction, rules)
	twice, second := Merge(once, correction, rules)

	assert.Equal(t, []Field{FieldTime}, first.Corrected)
	assert.Equal(t, once, twice)
	assert.False(t, second.Changed())
	assert.Equal(t, []Field{FieldTime}, second.Unchanged)
}

func TestParseConfirmation(t *testing.T) {
	cases := map[string]Confirmation{
		"yes":                     ConfirmYes,
		"Yeah, that's right":      ConfirmYes,
		"yep sounds good":         ConfirmYes,
		"please confirm it":       ConfirmYes,
		"no":                      ConfirmNo,
		"no that's not right":     ConfirmNo,
		"yes but change the time": ConfirmNo,
		"that isn't correct":      ConfirmNo,
		"hmm let me think":        ConfirmUnclear,
		"I know the place":        ConfirmUnclear,
		"":                        ConfirmUnclear,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseConfirmation(in), in)
	}
}

func TestMachine(t *testing.T) {
	m := NewMachine(config.DefaultBookingRules(), nil)
	assert.Equal(t, StateGreeting, m.State())

	state, err := m.Start()
	require.NoError(t, err)
	assert.Equal(t, StateCollectingDate, state)

	_, err = m.Apply([]Update{{Field: FieldDate, Value: "2025-03-14"}, {Field: FieldTime, Value: "19:00"}})
	require.NoError(t, err)
	assert.Equal(t, StateCollectingPartySize, m.State())

	_, err = m.Apply([]Update{{Field: FieldPartySize, Value: "4"}, {Field: FieldName, Value: "Ada"}, {Field: FieldPhone, Value: "555 123 4567"}})
	require.NoError(t, err)
	assert.Equal(t, StateConfirming, m.State())

	// an edit while confirming re-runs advance and stays in confirming
	res, err := m.Apply([]Update{{Field: FieldPartySize, Value: "5", Correction: true}})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldPartySize}, res.Corrected)
	assert.Equal(t, StateConfirming, m.State())

	state, err = m.Reopen(FieldTime)
	require.NoError(t, err)
	assert.Equal(t, StateCollectingTime, state)
	assert.Nil(t, m.Context().Time)

	_, err = m.Apply([]Update{{Field: FieldTime, Value: "20:00"}})
	require.NoError(t, err)
	require.Equal(t, StateConfirming, m.State())

	state, err = m.Answer(ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	_, err = m.Apply([]Update{{Field: FieldName, Value: "Other"}})
	assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)
	_, err = m.Answer(ConfirmYes)
	assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)
	_, err = m.Reopen(FieldTime)
	assert.ErrorIs(t, err, apperr.ErrProgrammingInvariant)

	history := m.History()
	require.NotEmpty(t, history)
	assert.Equal(t, StateGreeting, history[0].From)
	assert.Equal(t, StateCompleted, history[len(history)-1].To)
}

func TestContextClone(t *testing.T) {
	orig := fullContext()
	orig.Notes = []string{"window seat"}
	cp := orig.Clone()
	*cp.PartySize = 2
	cp.Notes[0] = "patio"

	assert.Equal(t, 4, *orig.PartySize)
	assert.Equal(t, "window seat", orig.Notes[0])
}
