package labelrules_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbroggi/configstore"
	"github.com/rbroggi/configstore/adapter/memoryadapter"
	"github.com/rbroggi/configstore/labelrules"
	"github.com/rbroggi/configstore/overlay"
)

func newStore(t *testing.T) *labelrules.Store {
	t.Helper()
	a := memoryadapter.New()
	versioned := configstore.NewVersionedConfigStore(a, nil)
	return labelrules.NewStore(versioned, "tenant-1", "tester", "tester@example.com", overlay.NewChannelEventSink(16))
}

func Test_RuleLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	rule := labelrules.Rule{
		RuleID:      "env-prod",
		Priority:    10,
		Enabled:     true,
		MatchLabels: map[string]string{"tier": "frontend"},
		Apply:       map[string]string{"environment": "production"},
	}
	saved, err := store.Upsert(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, rule, saved)

	got, ok, err := store.Get(ctx, "env-prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rule, got)

	require.NoError(t, store.Delete(ctx, "env-prod"))
	_, ok, err = store.Get(ctx, "env-prod")
	require.NoError(t, err)
	assert.False(t, ok)
}

func Test_RuleUpsertRejectsEmptyID(t *testing.T) {
	store := newStore(t)
	_, err := store.Upsert(context.Background(), labelrules.Rule{})
	require.Error(t, err)
	kind, ok := configstore.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, configstore.Internal, kind)
}

func Test_GetAllFiltersByEnabled(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.UpsertAll(ctx, []labelrules.Rule{
		{RuleID: "a", Enabled: true},
		{RuleID: "b", Enabled: false},
		{RuleID: "c", Enabled: true},
	})
	require.NoError(t, err)

	enabledOnly := true
	rules, err := store.GetAll(ctx, labelrules.Filter{EnabledOnly: &enabledOnly})
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	for _, r := range rules {
		assert.True(t, r.Enabled)
	}

	all, err := store.GetAll(ctx, labelrules.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func Test_ApplyAllMergesByPriorityWithoutOverwritingExistingLabels(t *testing.T) {
	rules := []labelrules.Rule{
		{RuleID: "low", Enabled: true, Priority: 1, MatchLabels: map[string]string{"tier": "frontend"}, Apply: map[string]string{"environment": "staging", "owner": "team-low"}},
		{RuleID: "high", Enabled: true, Priority: 10, MatchLabels: map[string]string{"tier": "frontend"}, Apply: map[string]string{"environment": "production"}},
		{RuleID: "disabled", Enabled: false, Priority: 100, MatchLabels: map[string]string{"tier": "frontend"}, Apply: map[string]string{"environment": "ignored"}},
		{RuleID: "no-match", Enabled: true, Priority: 50, MatchLabels: map[string]string{"tier": "backend"}, Apply: map[string]string{"environment": "ignored"}},
	}

	result := labelrules.ApplyAll(rules, map[string]string{"tier": "frontend"})
	assert.Equal(t, "production", result["environment"], "higher priority rule wins")
	assert.Equal(t, "team-low", result["owner"])
	assert.Equal(t, "frontend", result["tier"], "original labels survive untouched")
}
