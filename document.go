package configstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/rbroggi/configstore/adapter"
)

// ConfigDocument is the persisted record for one version of one
// ConfigResourceContext. Field names are part of the wire contract and are
// mirrored exactly in the bson/json tags.
type ConfigDocument struct {
	ResourceName      string `bson:"resourceName" json:"resourceName"`
	ResourceNamespace string `bson:"resourceNamespace" json:"resourceNamespace"`
	TenantID          string `bson:"tenantId" json:"tenantId"`
	Context           string `bson:"context" json:"context"`
	Version           int64  `bson:"version" json:"version"`

	LastUpdatedUserID    string `bson:"lastUpdatedUserId" json:"lastUpdatedUserId"`
	LastUpdatedUserEmail string `bson:"lastUpdatedUserEmail" json:"lastUpdatedUserEmail"`

	Config Value `bson:"config" json:"config"`

	CreationTimestamp int64 `bson:"creationTimestamp" json:"creationTimestamp"`
	UpdateTimestamp   int64 `bson:"updateTimestamp" json:"updateTimestamp"`
}

// ResourceContext rebuilds the ConfigResourceContext identity from a
// decoded document; batch reads key their result maps with it.
func (d ConfigDocument) ResourceContext() ConfigResourceContext {
	return ConfigResourceContext{
		ConfigResource: ConfigResource{
			TenantID:          d.TenantID,
			ResourceNamespace: d.ResourceNamespace,
			ResourceName:      d.ResourceName,
		},
		Context: d.Context,
	}
}

// documentKey derives the deterministic keyed-upsert identity for a
// ConfigResourceContext: stable across restarts, opaque to clients. A plain struct key would do the same job through the adapter's
// own encoding, but hashing here keeps the adapter contract - and
// memoryadapter's map key type - a single comparable string regardless of
// which concrete adapter is wired in. Each part is length-prefixed rather
// than NUL-separated so that a field value containing a NUL byte can't
// shift a byte from one field into the next and collide two distinct
// tuples onto the same key.
func documentKey(ctx ConfigResourceContext) adapter.DocumentKey {
	h := sha256.New()
	var lenBuf [8]byte
	for _, part := range []string{ctx.TenantID, ctx.ResourceNamespace, ctx.ResourceName, ctx.Context} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write([]byte(part))
	}
	return adapter.DocumentKey(hex.EncodeToString(h.Sum(nil)))
}
