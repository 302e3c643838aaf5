// Package overlay implements a generic typed view over
// configstore.VersionedConfigStore: it serializes a typed object to/from
// the opaque config payload, derives identity from one of the object's own
// fields, applies a caller-supplied post-filter, and fires change events
// after successful persistence.
package overlay

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EventKind is one of the three lifecycle events a Store emits.
type EventKind string

const (
	Created EventKind = "CREATED"
	Updated EventKind = "UPDATED"
	Deleted EventKind = "DELETED"
)

// Event is the payload handed to an EventSink. Prev/Curr are the raw
// decoded typed objects (as `any`, since EventSink is not itself generic)
// so a single sink implementation can serve every Store[T, F] in a
// process.
type Event struct {
	ID           string
	Kind         EventKind
	TenantID     string
	ResourceName string
	ObjectID     string
	Prev         any
	Curr         any
}

// EventSink is a fire-and-forget capability invoked on create/update/delete
// of a typed object. Ordering within a single (tenant, id) is
// preserved with respect to the calling goroutine; there is no cross-key
// ordering guarantee.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// SlogEventSink logs every event at Info level through the given logger,
// the default sink when no dedicated event-transport is wired.
type SlogEventSink struct {
	Logger *slog.Logger
}

func (s SlogEventSink) Emit(ctx context.Context, event Event) {
	s.Logger.With(
		"eventId", event.ID,
		"kind", event.Kind,
		"tenantId", event.TenantID,
		"resourceName", event.ResourceName,
		"objectId", event.ObjectID,
	).InfoContext(ctx, "config object changed")
}

// NopEventSink drops every event. Wired in when change-event publication
// is disabled by configuration.
type NopEventSink struct{}

func (NopEventSink) Emit(context.Context, Event) {}

// ChannelEventSink is a test double that forwards every event onto a
// channel, so tests can assert on event fidelity without depending on log
// output.
type ChannelEventSink struct {
	Events chan Event
}

// NewChannelEventSink returns a ChannelEventSink with a buffered channel
// large enough not to block typical test scenarios.
func NewChannelEventSink(buffer int) *ChannelEventSink {
	return &ChannelEventSink{Events: make(chan Event, buffer)}
}

func (s *ChannelEventSink) Emit(_ context.Context, event Event) {
	s.Events <- event
}

// newEventID assigns a fresh correlation id to every emitted event.
func newEventID() string {
	return uuid.NewString()
}
