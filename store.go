package configstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/rbroggi/configstore/adapter"
)

// UpsertedConfig is the result of a successful WriteConfig or
// WriteAllConfigs call.
type UpsertedConfig struct {
	Config            Value
	Context           ConfigResourceContext
	CreationTimestamp int64
	UpdateTimestamp   int64
	// PrevConfig is set iff a previous non-null config existed for Context.
	PrevConfig Value
	HasPrev    bool
}

// ContextSpecificConfig is a single context's latest non-null config, as
// returned by GetConfig, GetContextConfigs and GetAllConfigs.
type ContextSpecificConfig struct {
	Context           ConfigResourceContext
	Config            Value
	Version           int64
	CreationTimestamp int64
	UpdateTimestamp   int64
}

// VersionedConfigStore is the heart of the package: read-latest,
// write-with-version-bump, bulk variants, conditional write, delete, and
// list-all-contexts-latest, orchestrating the adapter and the filter
// compiler. It holds only immutable references to its adapter and clock -
// no in-process caches, no locking.
type VersionedConfigStore struct {
	adapter adapter.Adapter
	clock   Clock
}

// NewVersionedConfigStore constructs a store over the given adapter. clock
// defaults to SystemClock when nil.
func NewVersionedConfigStore(a adapter.Adapter, clock Clock) *VersionedConfigStore {
	if clock == nil {
		clock = SystemClock
	}
	return &VersionedConfigStore{adapter: a, clock: clock}
}

// WriteConfig appends a new version for the given context, optionally
// guarded by an upsert condition evaluated against the stored document.
func (s *VersionedConfigStore) WriteConfig(ctx context.Context, userID, userEmail string, req WriteConfigRequest) (*UpsertedConfig, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resourceCtx := ConfigResourceContext{ConfigResource: req.Resource, Context: req.Context}

	previous, err := s.getLatestDocument(ctx, resourceCtx)
	if err != nil {
		return nil, err
	}

	if previous == nil && req.UpsertCondition != nil {
		return nil, newError(FailedPrecondition, "No upsert condition required for creating config", nil)
	}

	newDoc := s.nextDocument(resourceCtx, userID, userEmail, req.Config, previous)

	key := documentKey(resourceCtx)
	rawDoc, err := toBSON(newDoc)
	if err != nil {
		return nil, newError(Internal, "failed to encode document", err)
	}

	if req.UpsertCondition != nil {
		pred, err := CompileFilter(req.UpsertCondition)
		if err != nil {
			return nil, err
		}
		updated, err := s.adapter.Update(ctx, key, rawDoc, pred)
		if err != nil {
			return nil, newError(Internal, "adapter update failed", err)
		}
		if updated <= 0 {
			return nil, newError(FailedPrecondition, "Update failed because upsert condition did not match given record", nil)
		}
	} else {
		if err := s.adapter.Upsert(ctx, key, rawDoc); err != nil {
			return nil, newError(Internal, "adapter upsert failed", err)
		}
	}

	return toUpserted(newDoc, previous), nil
}

// WriteAllConfigs is the all-or-nothing bulk variant of WriteConfig,
// preserving input ordering end to end.
func (s *VersionedConfigStore) WriteAllConfigs(ctx context.Context, userID, userEmail string, req WriteAllConfigsRequest) ([]UpsertedConfig, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resourceCtxs := make([]ConfigResourceContext, 0, len(req.Writes))
	for _, w := range req.Writes {
		resourceCtxs = append(resourceCtxs, w.Context)
	}
	previousByCtx, err := s.batchGetLatest(ctx, resourceCtxs)
	if err != nil {
		return nil, err
	}

	newDocs := make([]*ConfigDocument, len(req.Writes))
	keyedDocs := make([]adapter.KeyedDocument, len(req.Writes))
	for i, w := range req.Writes {
		previous := previousByCtx[w.Context]
		doc := s.nextDocument(w.Context, userID, userEmail, w.Config, previous)
		newDocs[i] = doc
		raw, err := toBSON(doc)
		if err != nil {
			return nil, newError(Internal, "failed to encode document", err)
		}
		keyedDocs[i] = adapter.KeyedDocument{Key: documentKey(w.Context), Document: raw}
	}

	if err := s.adapter.BulkUpsert(ctx, keyedDocs); err != nil {
		return nil, newError(Internal, "bulk upsert failed", err)
	}

	results := make([]UpsertedConfig, len(req.Writes))
	for i, w := range req.Writes {
		results[i] = *toUpserted(newDocs[i], previousByCtx[w.Context])
	}
	return results, nil
}

// GetConfig returns the latest non-null config for one context, or nil if
// none exists.
func (s *VersionedConfigStore) GetConfig(ctx context.Context, resourceCtx ConfigResourceContext) (*ContextSpecificConfig, error) {
	if err := resourceCtx.Validate(); err != nil {
		return nil, err
	}
	doc, err := s.getLatestDocument(ctx, resourceCtx)
	if err != nil {
		return nil, err
	}
	if doc == nil || IsNull(doc.Config) {
		return nil, nil
	}
	return toContextSpecific(doc), nil
}

// GetContextConfigs is the batched variant of GetConfig; keys with no
// latest non-null document are omitted from the result.
func (s *VersionedConfigStore) GetContextConfigs(ctx context.Context, resourceCtxs []ConfigResourceContext) (map[ConfigResourceContext]ContextSpecificConfig, error) {
	if err := validateContexts(resourceCtxs); err != nil {
		return nil, err
	}
	docsByCtx, err := s.batchGetLatest(ctx, resourceCtxs)
	if err != nil {
		return nil, err
	}
	result := make(map[ConfigResourceContext]ContextSpecificConfig, len(docsByCtx))
	for c, doc := range docsByCtx {
		if doc == nil || IsNull(doc.Config) {
			continue
		}
		result[c] = *toContextSpecific(doc)
	}
	return result, nil
}

// GetAllConfigs returns the latest non-null config of every context under
// the given resource, ordered by creation timestamp descending.
func (s *VersionedConfigStore) GetAllConfigs(ctx context.Context, resource ConfigResource) ([]ContextSpecificConfig, error) {
	if err := resource.Validate(); err != nil {
		return nil, err
	}
	pred := adapter.Logical{Op: adapter.And, Children: []adapter.Predicate{
		adapter.Relational{Field: "tenantId", Op: adapter.Eq, Value: resource.TenantID},
		adapter.Relational{Field: "resourceNamespace", Op: adapter.Eq, Value: resource.ResourceNamespace},
		adapter.Relational{Field: "resourceName", Op: adapter.Eq, Value: resource.ResourceName},
	}}

	cursor, err := s.adapter.Query(ctx, adapter.QuerySpec{
		Predicate: pred,
		Sort:      []adapter.SortKey{{Field: "version", Direction: adapter.Descending}},
	})
	if err != nil {
		return nil, newError(Internal, "adapter query failed", err)
	}
	defer cursor.Close(ctx)

	seenContext := make(map[string]bool)
	type ordered struct {
		doc   ConfigDocument
		order int
	}
	latestPerContext := make([]ordered, 0)
	idx := 0
	for cursor.Next(ctx) {
		var doc ConfigDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, newError(Internal, "failed to decode document", err)
		}
		if seenContext[doc.Context] {
			continue
		}
		seenContext[doc.Context] = true
		if IsNull(doc.Config) {
			continue
		}
		latestPerContext = append(latestPerContext, ordered{doc: doc, order: idx})
		idx++
	}
	if err := cursor.Err(); err != nil {
		return nil, newError(Internal, "cursor iteration failed", err)
	}

	sort.SliceStable(latestPerContext, func(i, j int) bool {
		if latestPerContext[i].doc.CreationTimestamp != latestPerContext[j].doc.CreationTimestamp {
			return latestPerContext[i].doc.CreationTimestamp > latestPerContext[j].doc.CreationTimestamp
		}
		return latestPerContext[i].order < latestPerContext[j].order
	})

	result := make([]ContextSpecificConfig, 0, len(latestPerContext))
	for _, o := range latestPerContext {
		d := o.doc
		result = append(result, *toContextSpecific(&d))
	}
	return result, nil
}

// DeleteConfigs is a no-op on empty input; otherwise it deletes every
// document matching any of the given contexts. Mixed-tenant input is a
// programming error, just as it is for the batch read.
func (s *VersionedConfigStore) DeleteConfigs(ctx context.Context, resourceCtxs []ConfigResourceContext) error {
	if len(resourceCtxs) == 0 {
		return nil
	}
	if err := validateContexts(resourceCtxs); err != nil {
		return err
	}
	if _, err := singleTenant(resourceCtxs); err != nil {
		return err
	}
	pred, err := orOverContexts(resourceCtxs)
	if err != nil {
		return err
	}
	if err := s.adapter.Delete(ctx, pred); err != nil {
		return newError(Internal, "adapter delete failed", err)
	}
	return nil
}

// HealthCheck delegates to the underlying adapter.
func (s *VersionedConfigStore) HealthCheck(ctx context.Context) error {
	if err := s.adapter.HealthCheck(ctx); err != nil {
		return newError(Unavailable, "adapter health check failed", err)
	}
	return nil
}

// nextDocument applies the version/timestamp policy shared by WriteConfig
// and WriteAllConfigs.
func (s *VersionedConfigStore) nextDocument(resourceCtx ConfigResourceContext, userID, userEmail string, newConfig Value, previous *ConfigDocument) *ConfigDocument {
	now := s.clock()
	doc := &ConfigDocument{
		ResourceName:         resourceCtx.ResourceName,
		ResourceNamespace:    resourceCtx.ResourceNamespace,
		TenantID:             resourceCtx.TenantID,
		Context:              resourceCtx.Context,
		LastUpdatedUserID:    userID,
		LastUpdatedUserEmail: userEmail,
		Config:               newConfig,
		UpdateTimestamp:      now,
	}
	if previous != nil {
		doc.Version = previous.Version + 1
		if !IsNull(previous.Config) {
			doc.CreationTimestamp = previous.CreationTimestamp
		} else {
			doc.CreationTimestamp = now
		}
	} else {
		doc.Version = 1
		doc.CreationTimestamp = now
	}
	return doc
}

// getLatestDocument reads the current latest document for a single
// context, or nil if none exists.
func (s *VersionedConfigStore) getLatestDocument(ctx context.Context, resourceCtx ConfigResourceContext) (*ConfigDocument, error) {
	docs, err := s.batchGetLatest(ctx, []ConfigResourceContext{resourceCtx})
	if err != nil {
		return nil, err
	}
	return docs[resourceCtx], nil
}

// batchGetLatest runs a single adapter query for the latest document of
// every given context. All inputs must share one tenant; mixed-tenant
// input is a programming error (Internal).
func (s *VersionedConfigStore) batchGetLatest(ctx context.Context, resourceCtxs []ConfigResourceContext) (map[ConfigResourceContext]*ConfigDocument, error) {
	result := make(map[ConfigResourceContext]*ConfigDocument, len(resourceCtxs))
	if _, err := singleTenant(resourceCtxs); err != nil {
		return nil, err
	}

	pred, err := orOverContexts(resourceCtxs)
	if err != nil {
		return nil, err
	}

	cursor, err := s.adapter.Query(ctx, adapter.QuerySpec{
		Predicate: pred,
		Limit:     int64(len(resourceCtxs)),
	})
	if err != nil {
		return nil, newError(Internal, "adapter query failed", err)
	}
	defer cursor.Close(ctx)

	for i := 0; i < len(resourceCtxs); i++ {
		result[resourceCtxs[i]] = nil
	}
	for cursor.Next(ctx) {
		var doc ConfigDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, newError(Internal, "failed to decode document", err)
		}
		d := doc
		result[doc.ResourceContext()] = &d
	}
	if err := cursor.Err(); err != nil {
		return nil, newError(Internal, "cursor iteration failed", err)
	}
	return result, nil
}

// singleTenant validates that every context shares the same tenant ID and
// returns it. Mixed-tenant input is a programming error (Internal).
func singleTenant(resourceCtxs []ConfigResourceContext) (string, error) {
	if len(resourceCtxs) == 0 {
		return "", nil
	}
	tenantID := resourceCtxs[0].TenantID
	var multi *multierror.Error
	for _, c := range resourceCtxs {
		if c.TenantID != tenantID {
			multi = multierror.Append(multi, fmt.Errorf("context %s has tenant %q, expected %q", c, c.TenantID, tenantID))
		}
	}
	if multi.ErrorOrNil() != nil {
		return "", newError(Internal, "mixed-tenant input to batch operation", multi)
	}
	return tenantID, nil
}

// orOverContexts builds the batch-read predicate:
// tenantId == T AND OR_over_ctxs(resource==R_i AND namespace==N_i AND context==C_i).
func orOverContexts(resourceCtxs []ConfigResourceContext) (adapter.Predicate, error) {
	if len(resourceCtxs) == 0 {
		return nil, newError(InvalidArgument, "buildConfigResourceContextsFilter requires at least one context", nil)
	}
	tenantID := resourceCtxs[0].TenantID
	orChildren := make([]adapter.Predicate, 0, len(resourceCtxs))
	for _, c := range resourceCtxs {
		orChildren = append(orChildren, adapter.Logical{Op: adapter.And, Children: []adapter.Predicate{
			adapter.Relational{Field: "resourceName", Op: adapter.Eq, Value: c.ResourceName},
			adapter.Relational{Field: "resourceNamespace", Op: adapter.Eq, Value: c.ResourceNamespace},
			adapter.Relational{Field: "context", Op: adapter.Eq, Value: c.Context},
		}})
	}
	return adapter.Logical{Op: adapter.And, Children: []adapter.Predicate{
		adapter.Relational{Field: "tenantId", Op: adapter.Eq, Value: tenantID},
		adapter.Logical{Op: adapter.Or, Children: orChildren},
	}}, nil
}

func toBSON(doc *ConfigDocument) (bson.M, error) {
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func toContextSpecific(doc *ConfigDocument) *ContextSpecificConfig {
	return &ContextSpecificConfig{
		Context:           doc.ResourceContext(),
		Config:            doc.Config,
		Version:           doc.Version,
		CreationTimestamp: doc.CreationTimestamp,
		UpdateTimestamp:   doc.UpdateTimestamp,
	}
}

func toUpserted(doc *ConfigDocument, previous *ConfigDocument) *UpsertedConfig {
	u := &UpsertedConfig{
		Config:            doc.Config,
		Context:           doc.ResourceContext(),
		CreationTimestamp: doc.CreationTimestamp,
		UpdateTimestamp:   doc.UpdateTimestamp,
	}
	if previous != nil && !IsNull(previous.Config) {
		u.PrevConfig = previous.Config
		u.HasPrev = true
	}
	return u
}
