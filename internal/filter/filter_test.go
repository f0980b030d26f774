package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

func eligibleSet(ids ...string) map[string]instance.Record {
	m := make(map[string]instance.Record, len(ids))
	for _, id := range ids {
		m[id] = instance.Record{ID: id}
	}
	return m
}

func TestTargets_Intersection(t *testing.T) {
	f := New(nil, nil)
	targets := f.Targets([]string{"i-1", "i-2"}, eligibleSet("i-1", "i-3"))
	assert.Equal(t, []string{"i-1"}, targets)
}

func TestTargets_NoOverlap(t *testing.T) {
	f := New(nil, nil)
	targets := f.Targets([]string{"i-9", "i-8"}, eligibleSet("i-1"))
	assert.Empty(t, targets)
	assert.NotNil(t, targets)
}

func TestTargets_FullyContained(t *testing.T) {
	f := New(nil, nil)
	targets := f.Targets([]string{"i-3", "i-1"}, eligibleSet("i-1", "i-2", "i-3"))
	assert.Equal(t, []string{"i-3", "i-1"}, targets)
}

func TestTargets_DuplicatesCollapsed(t *testing.T) {
	f := New(nil, nil)
	targets := f.Targets([]string{"i-1", "i-1", "i-2", "i-1"}, eligibleSet("i-1", "i-2"))
	assert.Equal(t, []string{"i-1", "i-2"}, targets)
}

func TestTargets_EmptyRequest(t *testing.T) {
	f := New(nil, nil)
	assert.Empty(t, f.Targets(nil, eligibleSet("i-1")))
}

func TestShouldInclude_NoFilters(t *testing.T) {
	f := New(nil, nil)
	r := instance.Record{ID: "i-123", Tags: map[string]string{"env": "prod"}}
	assert.True(t, f.ShouldInclude(r))
}

func TestShouldInclude_IncludeTags(t *testing.T) {
	f := New(map[string]string{"env": "prod", "team": "platform"}, nil)

	// Has both tags - should include
	assert.True(t, f.ShouldInclude(instance.Record{ID: "i-1", Tags: map[string]string{"env": "prod", "team": "platform"}}))

	// Missing one tag - should exclude
	assert.False(t, f.ShouldInclude(instance.Record{ID: "i-2", Tags: map[string]string{"env": "prod"}}))

	// Nil tags
	assert.False(t, f.ShouldInclude(instance.Record{ID: "i-3"}))
}

func TestShouldInclude_ExcludeTags_AnyMatch(t *testing.T) {
	f := New(nil, map[string]string{"powerswitch:protected": "true", "env": "prod"})

	assert.False(t, f.ShouldInclude(instance.Record{ID: "i-1", Tags: map[string]string{"powerswitch:protected": "true"}}))
	assert.False(t, f.ShouldInclude(instance.Record{ID: "i-2", Tags: map[string]string{"env": "prod"}}))
	assert.True(t, f.ShouldInclude(instance.Record{ID: "i-3", Tags: map[string]string{"env": "dev"}}))
	assert.True(t, f.ShouldInclude(instance.Record{ID: "i-4"}))
}

func TestEligible(t *testing.T) {
	f := New(nil, map[string]string{"powerswitch:protected": "true"})
	records := map[string]instance.Record{
		"i-1": {ID: "i-1", Tags: map[string]string{"powerswitch:protected": "true"}},
		"i-2": {ID: "i-2"},
	}

	eligible := f.Eligible(records)
	assert.Len(t, eligible, 1)
	assert.Contains(t, eligible, "i-2")

	// Protected instance drops out of the acted-on set.
	assert.Equal(t, []string{"i-2"}, f.Targets([]string{"i-1", "i-2"}, eligible))
}

func TestEligible_NoRulesReturnsInput(t *testing.T) {
	records := eligibleSet("i-1", "i-2")
	assert.Equal(t, records, New(nil, nil).Eligible(records))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, New(nil, nil).IsEmpty())
	assert.False(t, New(map[string]string{"env": "prod"}, nil).IsEmpty())
	assert.False(t, New(nil, map[string]string{"skip": "true"}).IsEmpty())
}
