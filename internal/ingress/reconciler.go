package ingress

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/powerswitch/pkg/instance"
)

// GroupWriter replaces the full ingress rule set of a security group.
type GroupWriter interface {
	ReplaceIngress(ctx context.Context, groupID string, perms []Permission) error
}

// Options tune how groups are visited.
type Options struct {
	// Parallelism bounds concurrent group rewrites. Values below 1 mean 1.
	Parallelism int
	// DedupeGroups rewrites each group once even when several instances share it.
	DedupeGroups bool
}

// Report summarises one reconciliation.
type Report struct {
	Groups int
	Failed int
}

// Reconciler rewrites ingress rules for every group attached to a set of instances.
type Reconciler struct {
	writer   GroupWriter
	template Template
	opts     Options
}

// NewReconciler creates a reconciler.
func NewReconciler(writer GroupWriter, template Template, opts Options) *Reconciler {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Reconciler{writer: writer, template: template, opts: opts}
}

// Reconcile rewrites the groups of every record. Individual group failures are
// logged and counted in the report; only an unusable caller address is an error.
func (r *Reconciler) Reconcile(ctx context.Context, records map[string]instance.Record, callerAddress string) (Report, error) {
	perms, err := r.template.Permissions(callerAddress)
	if err != nil {
		return Report{}, fmt.Errorf("build ingress template: %w", err)
	}

	groups := r.groups(records)

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)

	for _, groupID := range groups {
		g.Go(func() error {
			if err := r.writer.ReplaceIngress(ctx, groupID, perms); err != nil {
				failed.Add(1)
				log.Warn().Ctx(ctx).Err(err).Str("group_id", groupID).Msg("ingress rewrite failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Groups: len(groups), Failed: int(failed.Load())}
	log.Info().Ctx(ctx).
		Int("groups", report.Groups).
		Int("failed", report.Failed).
		Msg("ingress reconciled")

	return report, nil
}

// groups lists one entry per (instance, group) pair in instance id order,
// collapsed to unique ids when DedupeGroups is set.
func (r *Reconciler) groups(records map[string]instance.Record) []string {
	ids := lo.Keys(records)
	slices.Sort(ids)

	var groups []string
	for _, id := range ids {
		groups = append(groups, records[id].SecurityGroupIDs...)
	}
	if r.opts.DedupeGroups {
		groups = lo.Uniq(groups)
	}
	return groups
}
