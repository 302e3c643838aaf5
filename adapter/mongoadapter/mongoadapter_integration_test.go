package mongoadapter_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/adapter/mongoadapter"
)

// These tests run against a live MongoDB replica set: readiness probe,
// per-test database name, cleanup via t.Cleanup. They only run when
// CONFIGSTORE_MONGO_TEST=1 is set.
const mongoLocalAddr = "localhost:27017"

func requireMongoTests(t *testing.T) {
	t.Helper()
	if os.Getenv("CONFIGSTORE_MONGO_TEST") != "1" {
		t.Skip("set CONFIGSTORE_MONGO_TEST=1 to run against a live MongoDB replica set")
	}
}

func newFixture(t *testing.T) *mongo.Database {
	t.Helper()
	requireMongoTests(t)

	ctx, cnl := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cnl)
	opts := options.Client()
	opts.ApplyURI("mongodb://" + mongoLocalAddr + "/?connect=direct")
	opts.SetMaxPoolSize(50)
	client, err := mongo.Connect(ctx, opts)
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database(dbName(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, db.Drop(ctx))
	})

	require.EventuallyWithT(t, func(t *assert.CollectT) {
		var result bson.M
		assert.NoError(t, client.Database("admin").
			RunCommand(ctx, bson.D{primitive.E{Key: "isMaster", Value: 1}}).Decode(&result), "checking mongoDB primary status")
		assert.Equal(t, true, result["ismaster"])
	}, 15*time.Second, 100*time.Millisecond)

	return db
}

func dbName(t *testing.T) string {
	return strings.Replace(t.Name(), "/", "-", -1)
}

func Test_SingleKeyLifecycle(t *testing.T) {
	t.Parallel()
	db := newFixture(t)
	ctx := context.Background()

	a, err := mongoadapter.New(ctx, mongoadapter.Args{DB: db})
	require.NoError(t, err)

	store := configstore.NewVersionedConfigStore(a, nil)
	resource := configstore.ConfigResource{TenantID: "t1", ResourceNamespace: "labels", ResourceName: "label-application-rule-config"}

	v1, err := store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxA",
		Config:   bson.M{"a": int32(1)},
	})
	require.NoError(t, err)
	require.NotZero(t, v1.CreationTimestamp)
	require.Equal(t, v1.CreationTimestamp, v1.UpdateTimestamp)

	v2, err := store.WriteConfig(ctx, "u2", "u2@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxA",
		Config:   bson.M{"a": int32(2)},
	})
	require.NoError(t, err)
	require.Equal(t, v1.CreationTimestamp, v2.CreationTimestamp)
	require.True(t, v2.HasPrev)

	got, err := store.GetConfig(ctx, configstore.ConfigResourceContext{ConfigResource: resource, Context: "ctxA"})
	require.NoError(t, err)
	require.Equal(t, bson.M{"a": int32(2)}, got.Config)
}

func Test_ConditionalUpsert(t *testing.T) {
	t.Parallel()
	db := newFixture(t)
	ctx := context.Background()

	a, err := mongoadapter.New(ctx, mongoadapter.Args{DB: db})
	require.NoError(t, err)
	store := configstore.NewVersionedConfigStore(a, nil)
	resource := configstore.ConfigResource{TenantID: "t1", ResourceNamespace: "labels", ResourceName: "label-application-rule-config"}

	_, err = store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxA",
		Config:   bson.M{"a": int32(2)},
	})
	require.NoError(t, err)

	_, err = store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxA",
		Config:   bson.M{"a": int32(3)},
		UpsertCondition: configstore.RelationalNode{LHS: "a", Op: configstore.OpEQ, RHS: int32(2)},
	})
	require.NoError(t, err)

	_, err = store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxA",
		Config:   bson.M{"a": int32(4)},
		UpsertCondition: configstore.RelationalNode{LHS: "a", Op: configstore.OpEQ, RHS: int32(2)},
	})
	require.Error(t, err)
	kind, ok := configstore.KindOf(err)
	require.True(t, ok)
	require.Equal(t, configstore.FailedPrecondition, kind)
}

// Test_DeleteAndRecreate: delete clears history and a subsequent write
// starts again at version 1.
func Test_DeleteAndRecreate(t *testing.T) {
	t.Parallel()
	db := newFixture(t)
	ctx := context.Background()

	a, err := mongoadapter.New(ctx, mongoadapter.Args{DB: db})
	require.NoError(t, err)
	store := configstore.NewVersionedConfigStore(a, nil)
	resource := configstore.ConfigResource{TenantID: "t1", ResourceNamespace: "labels", ResourceName: "label-application-rule-config"}
	resourceCtx := configstore.ConfigResourceContext{ConfigResource: resource, Context: "ctxDel"}

	_, err = store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxDel",
		Config:   bson.M{"a": int32(1)},
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteConfigs(ctx, []configstore.ConfigResourceContext{resourceCtx}))

	got, err := store.GetConfig(ctx, resourceCtx)
	require.NoError(t, err)
	require.Nil(t, got)

	v, err := store.WriteConfig(ctx, "u1", "u1@example.com", configstore.WriteConfigRequest{
		Resource: resource,
		Context:  "ctxDel",
		Config:   bson.M{"a": int32(99)},
	})
	require.NoError(t, err)
	require.False(t, v.HasPrev)

	recreated, err := store.GetConfig(ctx, resourceCtx)
	require.NoError(t, err)
	require.Equal(t, int64(1), recreated.Version)
}
