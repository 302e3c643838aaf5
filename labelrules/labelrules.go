// Package labelrules implements label-application rules on top of the
// typed overlay: a rule says which labels get stamped onto a resource when
// a set of match conditions holds. It is a plug-in of the overlay -
// nothing in configstore or overlay imports this package, it only imports
// them.
package labelrules

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/overlay"
)

const (
	resourceNamespace = "labels"
	resourceName      = "label-application-rule-config"
)

// Rule is one label-application rule: when every key/value in MatchLabels
// is present on the target, the labels in Apply get added to it.
type Rule struct {
	RuleID      string            `json:"ruleId" bson:"ruleId"`
	Priority    int               `json:"priority" bson:"priority"`
	Enabled     bool              `json:"enabled" bson:"enabled"`
	MatchLabels map[string]string `json:"matchLabels" bson:"matchLabels"`
	Apply       map[string]string `json:"apply" bson:"apply"`
}

// GetID satisfies overlay.Identified: a rule's id is its own RuleID, used
// as the overlay context key.
func (r Rule) GetID() string { return r.RuleID }

// Matches reports whether target carries every key/value pair in
// MatchLabels.
func (r Rule) Matches(target map[string]string) bool {
	for k, v := range r.MatchLabels {
		if target[k] != v {
			return false
		}
	}
	return true
}

// Filter selects a subset of rules from GetAll. A nil EnabledOnly returns
// every rule regardless of Enabled.
type Filter struct {
	EnabledOnly *bool
}

func matchesFilter(r Rule, f Filter) bool {
	if f.EnabledOnly != nil && r.Enabled != *f.EnabledOnly {
		return false
	}
	return true
}

// Store is a label-application-rule overlay.Store, scoped to one tenant.
type Store struct {
	overlay *overlay.Store[Rule, Filter]
}

// NewStore builds a Store over versioned, scoped to tenantID. actorUserID
// and actorUserEmail attribute every write this Store makes.
func NewStore(versioned *configstore.VersionedConfigStore, tenantID, actorUserID, actorUserEmail string, sink overlay.EventSink) *Store {
	return &Store{
		overlay: overlay.New(overlay.Args[Rule, Filter]{
			Versioned: versioned,
			Resource: configstore.ConfigResource{
				TenantID:          tenantID,
				ResourceNamespace: resourceNamespace,
				ResourceName:      resourceName,
			},
			Sink:           sink,
			Encode:         encodeRule,
			Decode:         decodeRule,
			Filter:         matchesFilter,
			ActorUserID:    actorUserID,
			ActorUserEmail: actorUserEmail,
		}),
	}
}

func (s *Store) Upsert(ctx context.Context, r Rule) (Rule, error) {
	if r.RuleID == "" {
		var zero Rule
		return zero, configstore.NewInternalError("label rule must have a non-empty ruleId", nil)
	}
	return s.overlay.Upsert(ctx, r)
}

func (s *Store) UpsertAll(ctx context.Context, rules []Rule) ([]Rule, error) {
	return s.overlay.UpsertAll(ctx, rules)
}

func (s *Store) Get(ctx context.Context, ruleID string) (Rule, bool, error) {
	return s.overlay.Get(ctx, ruleID)
}

// GetAll returns every rule passing filter, ordered most-recently-created
// first (the order configstore.GetAllConfigs returns).
func (s *Store) GetAll(ctx context.Context, filter Filter) ([]Rule, error) {
	return s.overlay.GetAll(ctx, filter)
}

func (s *Store) Delete(ctx context.Context, ruleID string) error {
	return s.overlay.Delete(ctx, ruleID)
}

func (s *Store) DeleteAll(ctx context.Context) error {
	return s.overlay.DeleteAll(ctx)
}

// ApplyAll runs every enabled rule (in Priority order, highest first)
// against target and returns the merged label set a matching rule set
// would apply. Later (lower-priority) matches never overwrite a label a
// higher-priority rule already set.
func ApplyAll(rules []Rule, target map[string]string) map[string]string {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.Matches(target) {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	result := make(map[string]string, len(target))
	for k, v := range target {
		result[k] = v
	}
	for _, r := range ordered {
		for k, v := range r.Apply {
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
	}
	return result
}

func encodeRule(r Rule) (configstore.Value, error) {
	return map[string]any{
		"ruleId":      r.RuleID,
		"priority":    r.Priority,
		"enabled":     r.Enabled,
		"matchLabels": stringMapToAny(r.MatchLabels),
		"apply":       stringMapToAny(r.Apply),
	}, nil
}

func decodeRule(v configstore.Value) (Rule, error) {
	var rule Rule
	m, ok := asMap(v)
	if !ok {
		return rule, fmt.Errorf("label rule config is not a document: %T", v)
	}
	rule.RuleID, _ = m["ruleId"].(string)
	rule.Priority = asInt(m["priority"])
	rule.Enabled, _ = m["enabled"].(bool)
	rule.MatchLabels = anyMapToString(m["matchLabels"])
	rule.Apply = anyMapToString(m["apply"])
	if rule.RuleID == "" {
		return rule, fmt.Errorf("label rule config is missing ruleId")
	}
	return rule, nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyMapToString(v any) map[string]string {
	m, ok := asMap(v)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// asMap accepts either a plain map[string]any or a bson.M - whichever the
// adapter in use happens to hand back after a round trip - since bson.M
// is a distinct named type and does not match a map[string]any type
// switch case despite sharing its underlying representation.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case bson.M:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func asInt(v any) int {
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
