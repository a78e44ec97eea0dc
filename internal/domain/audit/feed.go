package audit

import "context"

// EventFeed is the read-only audit event source consumed by the detection
// and correlation services. Implementations must return events ordered by
// timestamp ascending and must never expose mutation.
type EventFeed interface {
	// Query returns events matching the filter, timestamp ascending.
	// The filter's time window is half-open: [Start, End).
	Query(ctx context.Context, filter Filter) ([]*Event, error)
}
