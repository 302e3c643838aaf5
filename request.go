package configstore

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

// WriteConfigRequest is the transport-agnostic request DTO behind
// WriteConfig. Struct tags are validated uniformly by
// ValidateRequest before a request ever reaches VersionedConfigStore.
type WriteConfigRequest struct {
	Resource        ConfigResource `validate:"required"`
	Context         string         `validate:"-"`
	Config          Value          `validate:"-"`
	UpsertCondition PredicateNode  `validate:"-"`
}

// ConfigWrite is one element of a WriteAllConfigsRequest. A slice (rather
// than a map keyed by ConfigResourceContext) is the DTO shape because Go
// maps have no iteration order and WriteAllConfigs promises to preserve
// the caller's input ordering end to end.
type ConfigWrite struct {
	Context ConfigResourceContext
	Config  Value
}

// WriteAllConfigsRequest is the request DTO behind WriteAllConfigs.
type WriteAllConfigsRequest struct {
	Writes []ConfigWrite `validate:"required,min=1"`
}

// ValidateRequest runs struct-tag validation via go-playground/validator
// and additionally enforces the ConfigResource/ConfigResourceContext
// non-empty-field rule that a generic "required" tag can't
// express across an embedded struct's own fields.
func ValidateRequest(req any) error {
	if err := requestValidator.Struct(req); err != nil {
		return newError(InvalidArgument, err.Error(), err)
	}
	switch r := req.(type) {
	case WriteConfigRequest:
		return r.Resource.Validate()
	case WriteAllConfigsRequest:
		seen := make(map[ConfigResourceContext]bool, len(r.Writes))
		for _, w := range r.Writes {
			if err := w.Context.Validate(); err != nil {
				return err
			}
			if seen[w.Context] {
				return newError(InvalidArgument, fmt.Sprintf("duplicate context %s in bulk write", w.Context), nil)
			}
			seen[w.Context] = true
		}
	}
	return nil
}

// validateContexts checks that every ConfigResourceContext in ctxs has
// non-empty tenant/namespace/resource fields, the same
// per-element check WriteAllConfigsRequest gets via ValidateRequest.
// GetContextConfigs and DeleteConfigs call this directly since their
// arguments are plain slices, not request DTOs.
func validateContexts(resourceCtxs []ConfigResourceContext) error {
	for _, c := range resourceCtxs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}
