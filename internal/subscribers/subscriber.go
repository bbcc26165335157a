package subscribers

import (
	"context"
	"errors"

	"foursight.local/orchestrator/internal/types"
)

// Subscriber receives workflow events after they happen. Delivery is
// asynchronous and never blocks the session that produced the event.
type Subscriber interface {
	Name() string
	Handle(context.Context, types.WorkflowEvent) error
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a delivery failure that a retry cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
