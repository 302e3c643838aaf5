package overlay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/rbroggi/configstore"
)

// Identified is the minimal constraint on a typed object: a stable string
// id, used as the overlay's context key.
type Identified interface {
	GetID() string
}

// Args configures a Store.
type Args[T Identified, F any] struct {
	Versioned *configstore.VersionedConfigStore
	Resource  configstore.ConfigResource
	Sink      EventSink
	Logger    *slog.Logger

	// Encode/Decode serialize T to/from the opaque config payload.
	Encode func(T) (configstore.Value, error)
	Decode func(configstore.Value) (T, error)
	// Filter applies a caller-supplied post-filter to GetAll's results.
	Filter func(T, F) bool

	// ActorUserID/ActorUserEmail attribute every write the overlay makes
	// to the underlying versioned store.
	ActorUserID    string
	ActorUserEmail string
}

// Store is a generic typed view over configstore.VersionedConfigStore. It
// owns no state beyond the capability bundle and the references it was
// built from - no caching, no locking.
type Store[T Identified, F any] struct {
	versioned      *configstore.VersionedConfigStore
	resource       configstore.ConfigResource
	sink           EventSink
	logger         *slog.Logger
	encode         func(T) (configstore.Value, error)
	decode         func(configstore.Value) (T, error)
	filter         func(T, F) bool
	actorUserID    string
	actorUserEmail string

	decodeFailures atomic.Int64
}

// New constructs a Store from Args.
func New[T Identified, F any](args Args[T, F]) *Store[T, F] {
	logger := args.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := args.Sink
	if sink == nil {
		sink = SlogEventSink{Logger: logger}
	}
	return &Store[T, F]{
		versioned:      args.Versioned,
		resource:       args.Resource,
		sink:           sink,
		logger:         logger.With("struct", "overlay.Store", "resource", args.Resource.ResourceName),
		encode:         args.Encode,
		decode:         args.Decode,
		filter:         args.Filter,
		actorUserID:    args.ActorUserID,
		actorUserEmail: args.ActorUserEmail,
	}
}

// DecodeFailures returns the count of rows GetAll/Get have silently
// swallowed due to a deserialization error.
func (s *Store[T, F]) DecodeFailures() int64 {
	return s.decodeFailures.Load()
}

func (s *Store[T, F]) resourceContext(id string) configstore.ConfigResourceContext {
	return configstore.ConfigResourceContext{ConfigResource: s.resource, Context: id}
}

// Upsert reads the current object for obj's id (if any), writes the new
// version, and emits CREATED or UPDATED (with the previous typed object on
// update). Serialization errors on write are fatal.
func (s *Store[T, F]) Upsert(ctx context.Context, obj T) (T, error) {
	id := obj.GetID()
	prev, hadPrev, err := s.Get(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}

	cfg, err := s.encode(obj)
	if err != nil {
		var zero T
		return zero, configstoreInternal("failed to encode typed object", err)
	}

	_, err = s.versioned.WriteConfig(ctx, s.actorUserID, s.actorUserEmail, configstore.WriteConfigRequest{
		Resource: s.resource,
		Context:  id,
		Config:   cfg,
	})
	if err != nil {
		var zero T
		return zero, err
	}

	kind := Created
	var prevAny any
	if hadPrev {
		kind = Updated
		prevAny = prev
	}
	s.emit(ctx, Event{
		ID:           newEventID(),
		Kind:         kind,
		TenantID:     s.resource.TenantID,
		ResourceName: s.resource.ResourceName,
		ObjectID:     id,
		Prev:         prevAny,
		Curr:         obj,
	})
	return obj, nil
}

// UpsertAll is the bulk variant of Upsert: events are emitted in input
// order, only after the whole bulk write succeeds.
func (s *Store[T, F]) UpsertAll(ctx context.Context, objs []T) ([]T, error) {
	if len(objs) == 0 {
		return nil, nil
	}
	prevs := make([]T, len(objs))
	hadPrev := make([]bool, len(objs))
	writes := make([]configstore.ConfigWrite, len(objs))
	for i, obj := range objs {
		id := obj.GetID()
		prev, ok, err := s.Get(ctx, id)
		if err != nil {
			var zero []T
			return zero, err
		}
		prevs[i], hadPrev[i] = prev, ok

		cfg, err := s.encode(obj)
		if err != nil {
			return nil, configstoreInternal("failed to encode typed object", err)
		}
		writes[i] = configstore.ConfigWrite{Context: s.resourceContext(id), Config: cfg}
	}

	if _, err := s.versioned.WriteAllConfigs(ctx, s.actorUserID, s.actorUserEmail, configstore.WriteAllConfigsRequest{Writes: writes}); err != nil {
		return nil, err
	}

	for i, obj := range objs {
		kind := Created
		var prevAny any
		if hadPrev[i] {
			kind = Updated
			prevAny = prevs[i]
		}
		s.emit(ctx, Event{
			ID:           newEventID(),
			Kind:         kind,
			TenantID:     s.resource.TenantID,
			ResourceName: s.resource.ResourceName,
			ObjectID:     obj.GetID(),
			Prev:         prevAny,
			Curr:         obj,
		})
	}
	return objs, nil
}

// Get returns the latest object for id, deserialized to T. It returns
// ok=false if no document exists, if its config is null, or if
// deserialization fails - the overlay stays resilient to partially
// incompatible historical payloads at the cost of making them invisible.
func (s *Store[T, F]) Get(ctx context.Context, id string) (obj T, ok bool, err error) {
	cfg, err := s.versioned.GetConfig(ctx, s.resourceContext(id))
	if err != nil {
		var zero T
		return zero, false, err
	}
	if cfg == nil {
		var zero T
		return zero, false, nil
	}
	decoded, derr := s.decode(cfg.Config)
	if derr != nil {
		s.decodeFailures.Add(1)
		s.logger.WarnContext(ctx, "dropping row with undecodable config", "context", id, "error", derr)
		var zero T
		return zero, false, nil
	}
	return decoded, true, nil
}

// GetAll reads all latest-per-context documents for the overlay's
// resource, deserializes each (resiliently, as Get does), and returns the
// survivors that pass filter.
func (s *Store[T, F]) GetAll(ctx context.Context, filter F) ([]T, error) {
	all, err := s.allObjects(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(all))
	for _, obj := range all {
		if s.filter != nil && !s.filter(obj, filter) {
			continue
		}
		result = append(result, obj)
	}
	return result, nil
}

// allObjects reads all latest-per-context documents for the overlay's
// resource and deserializes each (resiliently, as Get does), with no
// filter applied. DeleteAll uses this directly rather than GetAll so that
// "delete every object" never depends on F's zero value happening to mean
// "match everything" to the caller-supplied Filter.
func (s *Store[T, F]) allObjects(ctx context.Context) ([]T, error) {
	all, err := s.versioned.GetAllConfigs(ctx, s.resource)
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(all))
	for _, c := range all {
		obj, derr := s.decode(c.Config)
		if derr != nil {
			s.decodeFailures.Add(1)
			s.logger.WarnContext(ctx, "dropping row with undecodable config", "context", c.Context.Context, "error", derr)
			continue
		}
		result = append(result, obj)
	}
	return result, nil
}

// Delete removes id, emitting DELETED with the previous typed object if
// one existed.
func (s *Store[T, F]) Delete(ctx context.Context, id string) error {
	prev, hadPrev, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.versioned.DeleteConfigs(ctx, []configstore.ConfigResourceContext{s.resourceContext(id)}); err != nil {
		return err
	}
	if hadPrev {
		s.emit(ctx, Event{
			ID:           newEventID(),
			Kind:         Deleted,
			TenantID:     s.resource.TenantID,
			ResourceName: s.resource.ResourceName,
			ObjectID:     id,
			Prev:         prev,
		})
	}
	return nil
}

// DeleteAll removes every object for the overlay's resource, emitting
// DELETED for each one that existed.
func (s *Store[T, F]) DeleteAll(ctx context.Context) error {
	existing, err := s.allObjects(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}
	resourceCtxs := make([]configstore.ConfigResourceContext, len(existing))
	for i, obj := range existing {
		resourceCtxs[i] = s.resourceContext(obj.GetID())
	}
	if err := s.versioned.DeleteConfigs(ctx, resourceCtxs); err != nil {
		return err
	}
	for _, obj := range existing {
		s.emit(ctx, Event{
			ID:           newEventID(),
			Kind:         Deleted,
			TenantID:     s.resource.TenantID,
			ResourceName: s.resource.ResourceName,
			ObjectID:     obj.GetID(),
			Prev:         obj,
		})
	}
	return nil
}

// emit fires the event best-effort: skipped entirely once the request is
// cancelled, and a sink failure (panic) is recovered and logged, never
// surfaced to the caller.
func (s *Store[T, F]) emit(ctx context.Context, event Event) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "event sink panicked", "error", r, "eventId", event.ID)
		}
	}()
	s.sink.Emit(ctx, event)
}

func configstoreInternal(msg string, cause error) error {
	return configstore.NewInternalError(msg, cause)
}
