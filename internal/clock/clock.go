// Package clock abstracts wall time so services stay testable.
package clock

import (
	"context"
	"time"
)

// Clock is the time source for billing decisions. Proration and
// entitlement resets must all observe the same instant within a request.
type Clock interface {
	Now(ctx context.Context) time.Time
}
