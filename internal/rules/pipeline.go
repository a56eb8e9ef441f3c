package rules

import (
	"context"
	"sort"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

// Pipeline evaluates rules in priority order and stops at the first finding.
type Pipeline struct {
	rules []Rule
}

// NewPipeline orders rules by Priority. Registration order only breaks ties.
func NewPipeline(rules ...Rule) *Pipeline {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Pipeline{rules: sorted}
}

// Rules returns the rules in evaluation order.
func (p *Pipeline) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Evaluate runs the pipeline for ev.
func (p *Pipeline) Evaluate(ctx context.Context, ev *event.AuditEvent, now time.Time) *Finding {
	c := NewContext(ev, now)
	for _, r := range p.rules {
		if f := r.Evaluate(ctx, c); f != nil {
			return f
		}
	}
	return nil
}

// Build assembles the standard detectors from cfg. Disabled rules are left out.
func Build(cfg config.DetectionConf, counters window.CounterStore) *Pipeline {
	r := cfg.Rules
	var list []Rule
	add := func(enabled bool, rule Rule) {
		if enabled {
			list = append(list, rule)
		}
	}
	add(r.AuthFailureSpike.IsEnabled(), authFailureSpike(counters, r.AuthFailureSpike))
	add(r.PermissionDeniedSpike.IsEnabled(), permissionDeniedSpike(counters, r.PermissionDeniedSpike))
	add(r.OffboardedAccountAccess.IsEnabled(), offboardedAccountAccess(counters, r.OffboardedAccountAccess))
	add(r.PrivilegedRoleAssignment.IsEnabled(), privilegedRoleAssignment(counters, r.PrivilegedRoleAssignment))
	add(r.MassExport.IsEnabled(), massExport(counters, r.MassExport))
	add(r.UnauthorizedRecordView.IsEnabled(), unauthorizedRecordView(counters, r.UnauthorizedRecordView))
	add(r.PotentialBreach.IsEnabled(), potentialBreach(counters, r.PotentialBreach))
	return NewPipeline(list...)
}
