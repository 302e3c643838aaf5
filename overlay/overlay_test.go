package overlay_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/adapter/memoryadapter"
	"github.com/rbroggi/configstore/overlay"
)

// widget is a minimal overlay.Identified typed object used only by this
// test file.
type widget struct {
	ID    string
	Count int
}

func (w widget) GetID() string { return w.ID }

type widgetFilter struct {
	MinCount int
}

func encodeWidget(w widget) (configstore.Value, error) {
	return map[string]any{"id": w.ID, "count": w.Count}, nil
}

func decodeWidget(v configstore.Value) (widget, error) {
	m, ok := anyToMap(v)
	if !ok {
		return widget{}, fmt.Errorf("not a document: %T", v)
	}
	id, _ := m["id"].(string)
	count := toInt(m["count"])
	return widget{ID: id, Count: count}, nil
}

// anyToMap accepts either a plain map[string]any or a bson.M, since a
// round trip through memoryadapter always decodes nested documents as
// bson.M, a distinct named type.
func anyToMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case bson.M:
		return map[string]any(t), true
	}
	return nil, false
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func matchesWidgetFilter(w widget, f widgetFilter) bool {
	return w.Count >= f.MinCount
}

func newWidgetStore(t *testing.T, sink overlay.EventSink) *overlay.Store[widget, widgetFilter] {
	t.Helper()
	a := memoryadapter.New()
	versioned := configstore.NewVersionedConfigStore(a, nil)
	return overlay.New(overlay.Args[widget, widgetFilter]{
		Versioned:      versioned,
		Resource:       configstore.ConfigResource{TenantID: "t1", ResourceNamespace: "widgets", ResourceName: "widget-config"},
		Sink:           sink,
		Encode:         encodeWidget,
		Decode:         decodeWidget,
		Filter:         matchesWidgetFilter,
		ActorUserID:    "tester",
		ActorUserEmail: "tester@example.com",
	})
}

// Test_OverlayIdentity: round-tripping a typed object through Upsert/Get
// preserves identity and content.
func Test_OverlayIdentity(t *testing.T) {
	ctx := context.Background()
	store := newWidgetStore(t, overlay.NewChannelEventSink(8))

	saved, err := store.Upsert(ctx, widget{ID: "w1", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, widget{ID: "w1", Count: 3}, saved)

	got, ok, err := store.Get(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, widget{ID: "w1", Count: 3}, got)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Test_OverlayEventFidelity: Upsert emits CREATED on first write and
// UPDATED (with Prev set) on a later write; Delete emits DELETED.
func Test_OverlayEventFidelity(t *testing.T) {
	ctx := context.Background()
	sink := overlay.NewChannelEventSink(8)
	store := newWidgetStore(t, sink)

	_, err := store.Upsert(ctx, widget{ID: "w1", Count: 1})
	require.NoError(t, err)
	ev1 := <-sink.Events
	assert.Equal(t, overlay.Created, ev1.Kind)
	assert.Equal(t, "w1", ev1.ObjectID)
	assert.Nil(t, ev1.Prev)
	assert.Equal(t, widget{ID: "w1", Count: 1}, ev1.Curr)

	_, err = store.Upsert(ctx, widget{ID: "w1", Count: 2})
	require.NoError(t, err)
	ev2 := <-sink.Events
	assert.Equal(t, overlay.Updated, ev2.Kind)
	assert.Equal(t, widget{ID: "w1", Count: 1}, ev2.Prev)
	assert.Equal(t, widget{ID: "w1", Count: 2}, ev2.Curr)

	require.NoError(t, store.Delete(ctx, "w1"))
	ev3 := <-sink.Events
	assert.Equal(t, overlay.Deleted, ev3.Kind)
	assert.Equal(t, widget{ID: "w1", Count: 2}, ev3.Prev)
}

// Test_OverlayFilter: GetAll applies the caller-supplied filter.
func Test_OverlayFilter(t *testing.T) {
	ctx := context.Background()
	store := newWidgetStore(t, overlay.NewChannelEventSink(8))

	_, err := store.UpsertAll(ctx, []widget{
		{ID: "a", Count: 1},
		{ID: "b", Count: 5},
		{ID: "c", Count: 10},
	})
	require.NoError(t, err)

	all, err := store.GetAll(ctx, widgetFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := store.GetAll(ctx, widgetFilter{MinCount: 5})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
	for _, w := range filtered {
		assert.GreaterOrEqual(t, w.Count, 5)
	}
}

// Test_OverlayDeleteAll removes every object for the overlay's resource
// and emits a DELETED event per object that existed.
func Test_OverlayDeleteAll(t *testing.T) {
	ctx := context.Background()
	sink := overlay.NewChannelEventSink(8)
	store := newWidgetStore(t, sink)

	_, err := store.UpsertAll(ctx, []widget{{ID: "a", Count: 1}, {ID: "b", Count: 2}})
	require.NoError(t, err)
	<-sink.Events
	<-sink.Events

	require.NoError(t, store.DeleteAll(ctx))
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := <-sink.Events
		assert.Equal(t, overlay.Deleted, ev.Kind)
		seen[ev.ObjectID] = true
	}
	assert.True(t, seen["a"])
	assert.True(t, seen["b"])

	all, err := store.GetAll(ctx, widgetFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// requireMinCountFilter is a Filter whose zero value matches nothing: a
// zero-initialized Required flag means "no count qualifies". It exists to
// prove DeleteAll's "remove every object" contract holds independently of
// what a Store's Filter does with F's zero value.
type requireMinCountFilter struct {
	Required bool
	MinCount int
}

func matchesRequireMinCountFilter(w widget, f requireMinCountFilter) bool {
	return f.Required && w.Count >= f.MinCount
}

// Test_OverlayDeleteAllIgnoresFilterZeroValue is the regression case for
// DeleteAll: it must remove every object for the resource even when the
// overlay's own Filter treats F's zero value as "match nothing".
func Test_OverlayDeleteAllIgnoresFilterZeroValue(t *testing.T) {
	ctx := context.Background()
	a := memoryadapter.New()
	versioned := configstore.NewVersionedConfigStore(a, nil)
	store := overlay.New(overlay.Args[widget, requireMinCountFilter]{
		Versioned:      versioned,
		Resource:       configstore.ConfigResource{TenantID: "t1", ResourceNamespace: "widgets", ResourceName: "gated-widget-config"},
		Sink:           overlay.NewChannelEventSink(8),
		Encode:         encodeWidget,
		Decode:         decodeWidget,
		Filter:         matchesRequireMinCountFilter,
		ActorUserID:    "tester",
		ActorUserEmail: "tester@example.com",
	})

	_, err := store.UpsertAll(ctx, []widget{{ID: "a", Count: 1}, {ID: "b", Count: 2}})
	require.NoError(t, err)

	// A zero-value filter matches nothing here, so GetAll would see none of
	// these rows - DeleteAll must still remove both.
	filtered, err := store.GetAll(ctx, requireMinCountFilter{})
	require.NoError(t, err)
	assert.Empty(t, filtered, "sanity check: zero-value filter matches nothing")

	require.NoError(t, store.DeleteAll(ctx))

	all, err := store.GetAll(ctx, requireMinCountFilter{Required: true})
	require.NoError(t, err)
	assert.Empty(t, all, "DeleteAll must remove every object regardless of Filter's zero-value behavior")
}
