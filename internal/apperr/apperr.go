// Package apperr defines the error taxonomy shared by the booking engine, the
// resilience layer and the conversation core.
//
// Every failure that crosses a package boundary is an *Error carrying a Kind
// and, depending on the kind, a payload: the failed field and broken rule for
// validation, the suggested slots for capacity, the attempted providers for an
// exhausted fallback chain.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindCapacityExceeded
	KindTransientInfra
	KindCircuitOpen
	KindUserTimeout
	KindProgrammingInvariant
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindTransientInfra:
		return "transient_infra"
	case KindCircuitOpen:
		return "circuit_open"
	case KindUserTimeout:
		return "user_timeout"
	case KindProgrammingInvariant:
		return "programming_invariant"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// Sentinels matched through errors.Is. Every *Error unwraps to the sentinel of
// its kind.
var (
	ErrValidation           = errors.New("validation failed")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrTransientInfra       = errors.New("transient infrastructure failure")
	ErrCircuitOpen          = errors.New("circuit open")
	ErrUserTimeout          = errors.New("user timeout")
	ErrProgrammingInvariant = errors.New("programming invariant violated")
	ErrNotFound             = errors.New("not found")
	ErrDependency           = errors.New("dependency failure")
)

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindCapacityExceeded:
		return ErrCapacityExceeded
	case KindTransientInfra:
		return ErrTransientInfra
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindUserTimeout:
		return ErrUserTimeout
	case KindProgrammingInvariant:
		return ErrProgrammingInvariant
	case KindNotFound:
		return ErrNotFound
	case KindDependency:
		return ErrDependency
	default:
		return nil
	}
}

// Rule names the business rule a validation error broke.
type Rule string

const (
	RulePastDate      Rule = "date in the past"
	RuleBeyondWindow  Rule = "beyond booking window"
	RulePartyTooSmall Rule = "party size below minimum"
	RulePartyTooLarge Rule = "party size above maximum"
	RuleClosed        Rule = "closed on that day"
	RuleOutsideHours  Rule = "outside operating hours"
	RuleRequired      Rule = "required"
	RuleFormat        Rule = "invalid format"
	RuleDuplicate     Rule = "duplicate booking"
	RuleNoSlot        Rule = "no slot configured"
	RuleAlreadyCancel Rule = "already cancelled"
)

// Alternative is a slot offered instead of the one that was full.
type Alternative struct {
	Date      civil.Date
	Time      civil.Time
	Remaining int
}

// ProviderFailure records one provider of a fallback chain and why it failed.
type ProviderFailure struct {
	Provider string
	Err      error
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string

	// Validation payload.
	Field string
	Rule  Rule

	// CapacityExceeded payload.
	Alternatives []Alternative

	// CircuitOpen and Dependency payload.
	Dependency string
	Attempts   []ProviderFailure

	// UserTimeout payload.
	Elapsed time.Duration

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Rule != "":
		b.WriteString(string(e.Rule))
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, 0, len(e.Attempts))
		for _, a := range e.Attempts {
			parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinel(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Providers lists the providers attempted before a fallback chain gave up.
func (e *Error) Providers() []string {
	out := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Provider)
	}
	return out
}

func Validation(field string, rule Rule, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Rule: rule, Msg: msg}
}

func CapacityExceeded(msg string, alternatives []Alternative) *Error {
	return &Error{Kind: KindCapacityExceeded, Msg: msg, Alternatives: alternatives}
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransientInfra, Op: op, Err: err}
}

func CircuitOpen(dependency string) *Error {
	return &Error{Kind: KindCircuitOpen, Dependency: dependency, Msg: "circuit open for " + dependency}
}

func UserTimeout(elapsed time.Duration) *Error {
	return &Error{Kind: KindUserTimeout, Elapsed: elapsed, Msg: fmt.Sprintf("no user input after %s", elapsed)}
}

func Invariant(op, msg string) *Error {
	return &Error{Kind: KindProgrammingInvariant, Op: op, Msg: msg}
}

func NotFound(op, what string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: what + " not found"}
}

func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Err: err}
}

// Exhausted reports that every provider of a fallback chain failed.
func Exhausted(dependency string, attempts []ProviderFailure) *Error {
	return &Error{
		Kind:       KindDependency,
		Op:         dependency,
		Msg:        "all providers failed",
		Dependency: dependency,
		Attempts:   attempts,
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err. A bare context deadline that never passed through
// this package is reported as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientInfra
	}
	return KindUnknown
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransientInfra
}

// CountsAsFailure reports whether err says something about the health of the
// dependency that produced it. Business answers such as a validation verdict
// or a full slot do not.
func CountsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindTransientInfra, KindDependency, KindUnknown:
		return true
	default:
		return false
	}
}

// IsBusiness reports errors that are answers rather than failures; they are
// returned to the caller without retry or fallback.
func IsBusiness(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindCapacityExceeded, KindNotFound, KindProgrammingInvariant, KindUserTimeout:
		return true
	default:
		return false
	}
}
