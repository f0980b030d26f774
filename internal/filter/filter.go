// Package filter selects which requested instances a transition acts on.
package filter

import (
	"github.com/yairfalse/powerswitch/pkg/instance"
)

// Filter narrows eligible instances by tag and intersects them with a request.
type Filter struct {
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a new Filter from the provided tag rules.
func New(includeTags, excludeTags map[string]string) *Filter {
	return &Filter{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// ShouldInclude returns true if the record passes tag filters.
func (f *Filter) ShouldInclude(r instance.Record) bool {
	// Check include tags (whitelist) - ALL must match
	for k, v := range f.includeTags {
		if r.Tags == nil || r.Tags[k] != v {
			return false
		}
	}

	// Check exclude tags (blacklist) - ANY match excludes
	for k, v := range f.excludeTags {
		if r.Tags != nil && r.Tags[k] == v {
			return false
		}
	}

	return true
}

// Eligible returns the records that pass the tag filters. The input map is
// returned as-is when no rules are configured.
func (f *Filter) Eligible(records map[string]instance.Record) map[string]instance.Record {
	if f.IsEmpty() {
		return records
	}

	eligible := make(map[string]instance.Record, len(records))
	for id, r := range records {
		if f.ShouldInclude(r) {
			eligible[id] = r
		}
	}
	return eligible
}

// Targets intersects requested ids with the eligible set. Order follows the
// request; repeated ids appear once; unknown ids are dropped.
func (f *Filter) Targets(requested []string, eligible map[string]instance.Record) []string {
	targets := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := eligible[id]; ok {
			targets = append(targets, id)
		}
	}
	return targets
}

// IsEmpty returns true if no tag rules are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
