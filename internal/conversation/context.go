package conversation

import (
	"fmt"
	"strconv"

	"cloud.google.com/go/civil"
)

// Context holds the reservation details gathered so far. A nil field has not
// been provided yet.
type Context struct {
	Date      *civil.Date
	Time      *civil.Time
	PartySize *int
	Name      *string
	Phone     *string

	SpecialRequests string
	Notes           []string
}

func (c Context) Has(f Field) bool {
	switch f {
	case FieldDate:
		return c.Date != nil
	case FieldTime:
		return c.Time != nil
	case FieldPartySize:
		return c.PartySize != nil
	case FieldName:
		return c.Name != nil
	case FieldPhone:
		return c.Phone != nil
	}
	return false
}

// Value formats f for logs and prompts; empty when missing.
func (c Context) Value(f Field) string {
	if !c.Has(f) {
		return ""
	}
	switch f {
	case FieldDate:
		return c.Date.String()
	case FieldTime:
		return fmt.Sprintf("%02d:%02d", c.Time.Hour, c.Time.Minute)
	case FieldPartySize:
		return strconv.Itoa(*c.PartySize)
	case FieldName:
		return *c.Name
	default:
		return *c.Phone
	}
}

func (c Context) IsComplete() bool {
	return len(c.Missing()) == 0
}

// Missing lists the empty fields in FieldOrder.
func (c Context) Missing() []Field {
	var out []Field
	for _, f := range FieldOrder {
		if !c.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	out := Context{SpecialRequests: c.SpecialRequests}
	if c.Date != nil {
		d := *c.Date
		out.Date = &d
	}
	if c.Time != nil {
		t := *c.Time
		out.Time = &t
	}
	if c.PartySize != nil {
		n := *c.PartySize
		out.PartySize = &n
	}
	if c.Name != nil {
		s := *c.Name
		out.Name = &s
	}
	if c.Phone != nil {
		s := *c.Phone
		out.Phone = &s
	}
	if len(c.Notes) > 0 {
		out.Notes = append([]string(nil), c.Notes...)
	}
	return out
}

// Clear empties the given fields.
func (c *Context) Clear(fields ...Field) {
	for _, f := range fields {
		switch f {
		case FieldDate:
			c.Date = nil
		case FieldTime:
			c.Time = nil
		case FieldPartySize:
			c.PartySize = nil
		case FieldName:
			c.Name = nil
		case FieldPhone:
			c.Phone = nil
		}
	}
}
