// Package mongoadapter is the concrete, MongoDB-backed adapter.Adapter
// implementation: majority write concern with a bounded timeout, BSON
// options that reuse the document's JSON struct tags,
// context.WithTimeout-guarded calls, and index creation gated behind an
// opt-out for tests.
package mongoadapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/rbroggi/configstore/adapter"
)

const (
	operationTimeout    = 5 * time.Second
	writeConcernTimeout = 5 * time.Second
	indexCreateTimeout  = 30 * time.Second
	defaultCollection   = "configurations"
	fieldResourceName   = "resourceName"
	fieldResourceNS     = "resourceNamespace"
	fieldTenantID       = "tenantId"
	fieldContext        = "context"
	fieldVersion        = "version"
)

// Adapter is a MongoDB-backed adapter.Adapter. Every row in its collection
// is keyed by the deterministic adapter.DocumentKey and holds exactly the
// latest version for that (tenant, namespace, resource, context), the same
// storage shape configstore's in-memory adapter uses.
type Adapter struct {
	collection *mongo.Collection

	// decodeFailures counts Decode errors observed by cursors returned from
	// Query.
	decodeFailures atomic.Int64
}

// Args configures New.
type Args struct {
	DB                 *mongo.Database
	CollectionName     string
	SkipIndexOperation bool
}

// New constructs a mongoadapter.Adapter and, unless
// Args.SkipIndexOperation is set, creates its indexes.
func New(ctx context.Context, args Args) (*Adapter, error) {
	name := args.CollectionName
	if name == "" {
		name = defaultCollection
	}
	wc := writeconcern.Majority()
	wc.WTimeout = writeConcernTimeout
	// DefaultDocumentM keeps the opaque config payload decoding as bson.M
	// on interface{} fields; the driver's default of bson.D would leak a
	// second document representation into every read path.
	collOpts := options.Collection().
		SetWriteConcern(wc).
		SetBSONOptions(&options.BSONOptions{UseJSONStructTags: true, DefaultDocumentM: true})

	a := &Adapter{collection: args.DB.Collection(name, collOpts)}
	if !args.SkipIndexOperation {
		if err := a.createIndexes(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Adapter) createIndexes(ctx context.Context) error {
	ctx, cnl := context.WithTimeout(ctx, indexCreateTimeout)
	defer cnl()

	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: fieldTenantID, Value: 1},
				{Key: fieldResourceNS, Value: 1},
				{Key: fieldResourceName, Value: 1},
				{Key: fieldContext, Value: 1},
			},
			Options: options.Index().SetName("idx_identity"),
		},
		{
			Keys: bson.D{
				{Key: fieldTenantID, Value: 1},
				{Key: fieldResourceNS, Value: 1},
				{Key: fieldResourceName, Value: 1},
				{Key: fieldVersion, Value: -1},
			},
			Options: options.Index().SetName("idx_identity_version"),
		},
	})
	return err
}

func (a *Adapter) Upsert(ctx context.Context, key adapter.DocumentKey, doc bson.M) error {
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	defer cnl()
	filter := bson.M{"_id": string(key)}
	replacement := withID(doc, key)
	_, err := a.collection.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongoadapter: upsert failed: %w", err)
	}
	return nil
}

func (a *Adapter) Update(ctx context.Context, key adapter.DocumentKey, doc bson.M, pred adapter.Predicate) (int64, error) {
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	defer cnl()
	filter := bson.M{"$and": bson.A{
		bson.M{"_id": string(key)},
		pred.ToBSON(),
	}}
	replacement := withID(doc, key)
	res, err := a.collection.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return 0, fmt.Errorf("mongoadapter: conditional update failed: %w", err)
	}
	return res.ModifiedCount, nil
}

// BulkUpsert runs the batch inside a multi-document transaction so that a
// mid-batch failure leaves no document written: a plain ordered BulkWrite
// durably commits earlier documents before a later one fails, which a non-transactional
// caller has no way to undo. Requires the target deployment to be a
// replica set or sharded cluster; mongod standalone instances (used by
// some local dev setups) do not support transactions.
func (a *Adapter) BulkUpsert(ctx context.Context, docs []adapter.KeyedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	defer cnl()

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, kd := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": string(kd.Key)}).
			SetReplacement(withID(kd.Document, kd.Key)).
			SetUpsert(true))
	}

	session, err := a.collection.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("mongoadapter: starting bulk upsert session failed: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return a.collection.BulkWrite(sc, models, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return fmt.Errorf("mongoadapter: bulk upsert failed: %w", err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, pred adapter.Predicate) error {
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	defer cnl()
	_, err := a.collection.DeleteMany(ctx, pred.ToBSON())
	if err != nil {
		return fmt.Errorf("mongoadapter: delete failed: %w", err)
	}
	return nil
}

func (a *Adapter) Query(ctx context.Context, spec adapter.QuerySpec) (adapter.Cursor, error) {
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	opts := options.Find()
	if len(spec.Sort) > 0 {
		sortDoc := bson.D{}
		for _, k := range spec.Sort {
			sortDoc = append(sortDoc, bson.E{Key: k.Field, Value: int(k.Direction)})
		}
		opts.SetSort(sortDoc)
	}
	if spec.Offset > 0 {
		opts.SetSkip(spec.Offset)
	}
	if spec.Limit > 0 {
		opts.SetLimit(spec.Limit)
	}
	filter := bson.M{}
	if spec.Predicate != nil {
		filter = spec.Predicate.ToBSON()
	}
	cur, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		cnl()
		return nil, fmt.Errorf("mongoadapter: query failed: %w", err)
	}
	return &mongoCursor{adapter: a, cursor: cur, cancel: cnl}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cnl := context.WithTimeout(ctx, operationTimeout)
	defer cnl()
	return a.collection.Database().Client().Ping(ctx, nil)
}

// DecodeFailures returns the number of decode failures observed so far.
func (a *Adapter) DecodeFailures() int64 {
	return a.decodeFailures.Load()
}

// withID copies doc and sets its Mongo identity to key, so the same
// ConfigDocument BSON can be handed to either Upsert or Update.
func withID(doc bson.M, key adapter.DocumentKey) bson.M {
	out := make(bson.M, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["_id"] = string(key)
	return out
}

// mongoCursor adapts *mongo.Cursor to adapter.Cursor, bracketing the
// context timeout created in Query so it is released on every exit path:
// success, early break, and error alike.
type mongoCursor struct {
	adapter *Adapter
	cursor  *mongo.Cursor
	cancel  context.CancelFunc
	err     error
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	return c.cursor.Next(ctx)
}

func (c *mongoCursor) Decode(v any) error {
	if err := c.cursor.Decode(v); err != nil {
		c.adapter.decodeFailures.Add(1)
		c.err = err
		return err
	}
	return nil
}

func (c *mongoCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cursor.Err()
}

func (c *mongoCursor) Close(ctx context.Context) error {
	defer c.cancel()
	return c.cursor.Close(ctx)
}
