// Package command validates proposed transitions against current aggregate
// state and decides which event, if any, to append.
package command

import (
	"github.com/meridianhq/meridian/internal/domain/event"
	apperrors "github.com/meridianhq/meridian/internal/platform/errors"
)

// Decision represents the pure outcome of handling a command.
type Decision struct {
	Events     []event.Event
	Rejections []Rejection
}

// Rejection captures a domain-level reason a command was declined.
type Rejection struct {
	Code     apperrors.Code
	Message  string
	Metadata map[string]string
}

// Accept returns a decision that emits the provided events.
func Accept(events ...event.Event) Decision {
	return Decision{Events: append([]event.Event(nil), events...)}
}

// Reject returns a decision that carries the provided rejections.
func Reject(rejections ...Rejection) Decision {
	return Decision{Rejections: append([]Rejection(nil), rejections...)}
}

// Accepted reports whether the decision produced events.
func (d Decision) Accepted() bool {
	return len(d.Rejections) == 0 && len(d.Events) > 0
}

// Err converts the first rejection into a typed validation error, or nil
// when the decision was accepted.
func (d Decision) Err() error {
	if len(d.Rejections) == 0 {
		return nil
	}
	rejection := d.Rejections[0]
	return apperrors.WithMetadata(rejection.Code, rejection.Message, rejection.Metadata)
}
