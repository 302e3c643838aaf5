package memoryadapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rbroggi/configstore/adapter"
	"github.com/rbroggi/configstore/adapter/memoryadapter"
)

func collect(t *testing.T, a *memoryadapter.Adapter, spec adapter.QuerySpec) []bson.M {
	t.Helper()
	ctx := context.Background()
	cursor, err := a.Query(ctx, spec)
	require.NoError(t, err)
	defer cursor.Close(ctx)

	var docs []bson.M
	for cursor.Next(ctx) {
		var doc bson.M
		require.NoError(t, cursor.Decode(&doc))
		docs = append(docs, doc)
	}
	require.NoError(t, cursor.Err())
	return docs
}

// Test_BulkUpsertIsAllOrNothing: one bad entry in the batch must leave the
// store exactly as it was.
func Test_BulkUpsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	a := memoryadapter.New()

	err := a.BulkUpsert(ctx, []adapter.KeyedDocument{
		{Key: "k1", Document: bson.M{"n": int64(1)}},
		{Key: "", Document: bson.M{"n": int64(2)}},
		{Key: "k3", Document: nil},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty key")
	assert.Contains(t, err.Error(), "nil document")

	assert.Empty(t, collect(t, a, adapter.QuerySpec{}), "failed bulk must write nothing")

	require.NoError(t, a.BulkUpsert(ctx, []adapter.KeyedDocument{
		{Key: "k1", Document: bson.M{"n": int64(1)}},
		{Key: "k2", Document: bson.M{"n": int64(2)}},
	}))
	assert.Len(t, collect(t, a, adapter.QuerySpec{}), 2)
}

func Test_QuerySortAndPagination(t *testing.T) {
	ctx := context.Background()
	a := memoryadapter.New()
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, a.Upsert(ctx, adapter.DocumentKey(string(rune('a'+i))), bson.M{"version": i}))
	}

	docs := collect(t, a, adapter.QuerySpec{
		Sort:   []adapter.SortKey{{Field: "version", Direction: adapter.Descending}},
		Offset: 1,
		Limit:  2,
	})
	require.Len(t, docs, 2)
	assert.Equal(t, int64(4), docs[0]["version"])
	assert.Equal(t, int64(3), docs[1]["version"])
}

func Test_DeleteByPredicate(t *testing.T) {
	ctx := context.Background()
	a := memoryadapter.New()
	require.NoError(t, a.Upsert(ctx, "k1", bson.M{"tenantId": "t1"}))
	require.NoError(t, a.Upsert(ctx, "k2", bson.M{"tenantId": "t2"}))

	require.NoError(t, a.Delete(ctx, adapter.Relational{Field: "tenantId", Op: adapter.Eq, Value: "t1"}))

	docs := collect(t, a, adapter.QuerySpec{})
	require.Len(t, docs, 1)
	assert.Equal(t, "t2", docs[0]["tenantId"])
}

func Test_UpdateOnlyWhenPredicateMatches(t *testing.T) {
	ctx := context.Background()
	a := memoryadapter.New()
	require.NoError(t, a.Upsert(ctx, "k1", bson.M{"config": bson.M{"x": "a"}}))

	n, err := a.Update(ctx, "k1", bson.M{"config": bson.M{"x": "b"}}, adapter.Relational{Field: "config.x", Op: adapter.Eq, Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.Update(ctx, "k1", bson.M{"config": bson.M{"x": "c"}}, adapter.Relational{Field: "config.x", Op: adapter.Eq, Value: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "stale predicate must not match")

	n, err = a.Update(ctx, "missing", bson.M{"config": bson.M{"x": "c"}}, adapter.MatchAll{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no document at key")
}
