// Package memoryadapter is an in-process adapter.Adapter implementation:
// a single struct holding plain Go maps behind one mutex, no background
// eviction, lookups and writes done directly against the maps. It is used
// by configstore's unit tests and by cmd/configserver when its document
// store type is set to "memory".
package memoryadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"

	"github.com/rbroggi/configstore/adapter"
)

// Adapter is an in-memory, single-process implementation of adapter.Adapter.
// BulkUpsert is genuinely atomic with respect to other calls on the same
// Adapter because every operation holds the single mutex for its whole
// duration.
type Adapter struct {
	mu   sync.Mutex
	docs map[adapter.DocumentKey]bson.M

	healthy atomic.Bool

	// decodeFailures counts Decode errors observed by cursors returned from
	// Query.
	decodeFailures atomic.Int64
}

// New returns a ready-to-use, healthy in-memory adapter.
func New() *Adapter {
	a := &Adapter{docs: make(map[adapter.DocumentKey]bson.M)}
	a.healthy.Store(true)
	return a
}

// SetHealthy toggles the result of HealthCheck, for exercising the
// Unavailable error path in tests.
func (a *Adapter) SetHealthy(healthy bool) {
	a.healthy.Store(healthy)
}

// DecodeFailures returns the number of decode failures observed so far.
func (a *Adapter) DecodeFailures() int64 {
	return a.decodeFailures.Load()
}

func (a *Adapter) Upsert(_ context.Context, key adapter.DocumentKey, doc bson.M) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs[key] = cloneDoc(doc)
	return nil
}

func (a *Adapter) Update(_ context.Context, key adapter.DocumentKey, doc bson.M, pred adapter.Predicate) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, ok := a.docs[key]
	if !ok || !pred.Eval(existing) {
		return 0, nil
	}
	a.docs[key] = cloneDoc(doc)
	return 1, nil
}

func (a *Adapter) BulkUpsert(_ context.Context, docs []adapter.KeyedDocument) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	// Dry-run validation pass first so the write is genuinely all-or-nothing:
	// nothing is written to a.docs until every document in the batch is
	// known writable.
	var multi *multierror.Error
	staged := make(map[adapter.DocumentKey]bson.M, len(docs))
	for i, kd := range docs {
		if kd.Key == "" {
			multi = multierror.Append(multi, fmt.Errorf("document %d: empty key", i))
			continue
		}
		if kd.Document == nil {
			multi = multierror.Append(multi, fmt.Errorf("document %d: nil document", i))
			continue
		}
		staged[kd.Key] = cloneDoc(kd.Document)
	}
	if err := multi.ErrorOrNil(); err != nil {
		return err
	}
	for key, doc := range staged {
		a.docs[key] = doc
	}
	return nil
}

func (a *Adapter) Delete(_ context.Context, pred adapter.Predicate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, doc := range a.docs {
		if pred.Eval(doc) {
			delete(a.docs, key)
		}
	}
	return nil
}

func (a *Adapter) Query(_ context.Context, spec adapter.QuerySpec) (adapter.Cursor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := make([]bson.M, 0)
	for _, doc := range a.docs {
		pred := spec.Predicate
		if pred == nil {
			pred = adapter.MatchAll{}
		}
		if pred.Eval(doc) {
			matched = append(matched, cloneDoc(doc))
		}
	}
	if len(spec.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, key := range spec.Sort {
				vi, _ := matched[i][key.Field]
				vj, _ := matched[j][key.Field]
				cmp := compareAny(vi, vj)
				if cmp == 0 {
					continue
				}
				if key.Direction == adapter.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}
	start := spec.Offset
	if start > int64(len(matched)) {
		start = int64(len(matched))
	}
	end := int64(len(matched))
	if spec.Limit > 0 && start+spec.Limit < end {
		end = start + spec.Limit
	}
	return &cursor{a: a, docs: matched[start:end]}, nil
}

func (a *Adapter) HealthCheck(context.Context) error {
	if !a.healthy.Load() {
		return errUnhealthy
	}
	return nil
}

type cursor struct {
	a    *Adapter
	docs []bson.M
	pos  int
	cur  bson.M
	err  error
}

func (c *cursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *cursor) Decode(v any) error {
	b, err := bson.Marshal(c.cur)
	if err != nil {
		c.a.decodeFailures.Add(1)
		c.err = err
		return err
	}
	if err := decodeDocumentM(b, v); err != nil {
		c.a.decodeFailures.Add(1)
		c.err = err
		return err
	}
	return nil
}

// decodeDocumentM unmarshals with embedded documents decoding as bson.M on
// interface{} fields, matching the BSON options mongoadapter configures on
// its collection so the two adapters hand back the same shapes.
func decodeDocumentM(data []byte, v any) error {
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(data))
	if err != nil {
		return err
	}
	dec.DefaultDocumentM()
	return dec.Decode(v)
}

func (c *cursor) Err() error                  { return c.err }
func (c *cursor) Close(context.Context) error { return nil }

func cloneDoc(doc bson.M) bson.M {
	b, err := bson.Marshal(doc)
	if err != nil {
		return bson.M{}
	}
	var out bson.M
	_ = bson.Unmarshal(b, &out)
	return out
}

func compareAny(a, b any) int {
	af, aok := a.(int64)
	bf, bok := b.(int64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, aisStr := a.(string)
	bs, bisStr := b.(string)
	if aisStr && bisStr {
		if as < bs {
			return -1
		}
		if as > bs {
			return 1
		}
		return 0
	}
	return 0
}

type unhealthyError struct{}

func (unhealthyError) Error() string { return "memory adapter marked unhealthy" }

var errUnhealthy = unhealthyError{}
