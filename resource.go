// Package configstore implements the versioned, multi-tenant configuration
// store: persistence of structured configuration documents keyed by
// (tenant, namespace, resource, context), a monotonic version history per
// key, and conditional (compare-and-set-style) upserts driven by a
// predicate language compiled against an abstract document-store adapter.
package configstore

import "fmt"

// ConfigResource identifies a logical configuration family: a tenant, a
// namespace grouping related resources, and a resource name inside that
// namespace. Equality is structural.
type ConfigResource struct {
	TenantID          string
	ResourceNamespace string
	ResourceName      string
}

// Validate checks that all three identity fields are non-empty.
func (r ConfigResource) Validate() error {
	switch {
	case r.TenantID == "":
		return newError(InvalidArgument, "tenantId must not be empty", nil)
	case r.ResourceNamespace == "":
		return newError(InvalidArgument, "resourceNamespace must not be empty", nil)
	case r.ResourceName == "":
		return newError(InvalidArgument, "resourceName must not be empty", nil)
	}
	return nil
}

func (r ConfigResource) String() string {
	return fmt.Sprintf("%s/%s/%s", r.TenantID, r.ResourceNamespace, r.ResourceName)
}

// ConfigResourceContext is a ConfigResource plus a free-form context string
// distinguishing sibling configurations under the same resource. The empty
// context denotes the "singleton" configuration for the resource.
type ConfigResourceContext struct {
	ConfigResource
	Context string
}

// Validate checks the embedded resource fields only; an empty context is
// accepted. The empty context is a legitimate value at the storage layer
// (it denotes the singleton configuration), so callers that intend the
// singleton context pass Context: "" deliberately, not by omission.
func (c ConfigResourceContext) Validate() error {
	return c.ConfigResource.Validate()
}

func (c ConfigResourceContext) String() string {
	return fmt.Sprintf("%s/%s", c.ConfigResource.String(), c.Context)
}
