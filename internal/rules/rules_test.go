package rules_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newPipeline() *rules.Pipeline {
	return rules.Build(config.Default().Detection, window.NewMemoryStore())
}

var seq int

func ev(module, activity, status, actor, ip string, at time.Time, meta map[string]interface{}) *event.AuditEvent {
	seq++
	return &event.AuditEvent{
		ID:           fmt.Sprintf("evt-%d", seq),
		Module:       module,
		ActivityName: activity,
		Status:       status,
		OccurredAt:   at,
		PerformedBy:  actor,
		SourceIP:     ip,
		Metadata:     meta,
	}
}

func loginFailure(actor, ip string, at time.Time) *event.AuditEvent {
	return ev("authentication", "Login Attempt", "failed", actor, ip, at, map[string]interface{}{"reason": "invalid password"})
}

// run feeds events and returns the finding produced by the last one.
func run(p *rules.Pipeline, events ...*event.AuditEvent) []*rules.Finding {
	out := make([]*rules.Finding, 0, len(events))
	for _, e := range events {
		out = append(out, p.Evaluate(context.Background(), e, t0))
	}
	return out
}

func TestChooseSeverity(t *testing.T) {
	cases := []struct {
		base      rules.Base
		observed  int
		threshold int
		want      rules.Severity
	}{
		{rules.BaseCritical, 1, 10, rules.SeverityHigh},
		{rules.BaseLow, 10, 5, rules.SeverityHigh},
		{rules.BaseLow, 9, 5, rules.SeverityLow},
		{rules.BaseHigh, 5, 5, rules.SeverityHigh},
		{rules.BaseLow, 5, 5, rules.SeverityLow},
		{rules.BaseHigh, 1, 5, rules.SeverityHigh},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%d_%d", tc.base, tc.observed, tc.threshold), func(t *testing.T) {
			assert.Equal(t, tc.want, rules.ChooseSeverity(tc.base, tc.observed, tc.threshold))
		})
	}
}

func TestAuthBruteForce_ThresholdBoundary(t *testing.T) {
	p := newPipeline()
	var events []*event.AuditEvent
	for i := 0; i < 5; i++ {
		events = append(events, loginFailure(fmt.Sprintf("user%d@corp.com", i), "10.0.0.9", t0.Add(time.Duration(i)*time.Minute)))
	}
	got := run(p, events...)
	for i := 0; i < 4; i++ {
		assert.Nil(t, got[i], "event %d is below threshold", i)
	}
	f := got[4]
	require.NotNil(t, f)
	assert.Equal(t, rules.RuleAuthBruteForce, f.RuleID)
	assert.Equal(t, rules.SeverityHigh, f.Severity)
	assert.Equal(t, 5, f.ObservedCount)
	assert.Equal(t, 10, f.WindowMinutes)
	assert.Equal(t, rules.Subject{SourceIP: "10.0.0.9"}, f.Subject)
}

func TestAuthBruteForce_OutsideWindow(t *testing.T) {
	p := newPipeline()
	var events []*event.AuditEvent
	for i := 0; i < 5; i++ {
		events = append(events, loginFailure("a@corp.com", "10.0.0.9", t0.Add(time.Duration(i)*3*time.Minute)))
	}
	got := run(p, events...)
	assert.Nil(t, got[4], "first attempt fell out of the 10 minute window")
}

func TestPermissionDeniedSpike_SeverityFollowsSensitivity(t *testing.T) {
	p := newPipeline()
	deny := func(module string) *event.AuditEvent {
		return ev(module, "Update Settings", "rejected", "mallory@corp.com", "", t0, map[string]interface{}{"reason": "permission denied"})
	}
	got := run(p, deny("settings"), deny("settings"), deny("settings"))
	require.NotNil(t, got[2])
	assert.Equal(t, rules.RulePermissionDeniedSpike, got[2].RuleID)
	assert.Equal(t, rules.SeverityLow, got[2].Severity)
	assert.False(t, got[2].RestrictedData)

	p = newPipeline()
	got = run(p, deny("payroll"), deny("payroll"), deny("payroll"))
	require.NotNil(t, got[2])
	assert.Equal(t, rules.SeverityHigh, got[2].Severity)
	assert.True(t, got[2].RestrictedData)
}

func TestPermissionDeniedSpike_DoubleThresholdEscalates(t *testing.T) {
	p := newPipeline()
	var last *rules.Finding
	for i := 0; i < 6; i++ {
		last = p.Evaluate(context.Background(),
			ev("settings", "Update Settings", "forbidden", "mallory@corp.com", "", t0, nil), t0)
	}
	require.NotNil(t, last)
	assert.Equal(t, 6, last.ObservedCount)
	assert.Equal(t, rules.SeverityHigh, last.Severity)
}

func TestOffboardedAccountAccess(t *testing.T) {
	p := newPipeline()
	attempt := func() *event.AuditEvent {
		return ev("authentication", "Login", "denied", "gone@corp.com", "", t0,
			map[string]interface{}{"reason": "account disabled after offboarding"})
	}
	got := run(p, attempt(), attempt())
	assert.Nil(t, got[0])
	require.NotNil(t, got[1])
	assert.Equal(t, rules.RuleOffboardedAccountAccess, got[1].RuleID)
	assert.Equal(t, "gone@corp.com", got[1].AffectedPerson)
}

func TestPrivilegedRoleAssignment(t *testing.T) {
	p := newPipeline()
	assign := func(role, target string) *event.AuditEvent {
		return ev("user_management", "Assign Role", "approved", "ops@corp.com", "", t0,
			map[string]interface{}{"role": role, "target_employee": target})
	}
	got := run(p, assign("viewer", "a@corp.com"), assign("super_admin", "b@corp.com"), assign("super_admin", "c@corp.com"))
	assert.Nil(t, got[0], "non-privileged role")
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, rules.RulePrivilegedRoleAssignment, got[2].RuleID)
	assert.Equal(t, "role:super_admin", got[2].Subject.Target)
	assert.Equal(t, "c@corp.com", got[2].AffectedPerson)
}

func TestMassExport_AlwaysRestricted(t *testing.T) {
	p := newPipeline()
	var events []*event.AuditEvent
	for i := 0; i < 4; i++ {
		events = append(events, ev("reports", "Export Report", "completed", "eve@corp.com", "", t0, nil))
	}
	got := run(p, events...)
	assert.Nil(t, got[2])
	require.NotNil(t, got[3])
	assert.Equal(t, rules.RuleMassExport, got[3].RuleID)
	assert.True(t, got[3].RestrictedData)
	assert.Equal(t, rules.SeverityHigh, got[3].Severity)
}

func TestUnauthorizedRecordView(t *testing.T) {
	p := newPipeline()
	var last *rules.Finding
	for i := 0; i < 12; i++ {
		last = p.Evaluate(context.Background(),
			ev("directory", "View Profile", "blocked", "nosy@corp.com", "", t0, nil), t0)
		if i < 11 {
			assert.Nil(t, last)
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, rules.RuleUnauthorizedRecordView, last.RuleID)
	assert.Equal(t, rules.SeverityLow, last.Severity)
	assert.Equal(t, 12, last.ObservedCount)
}

func breachEvents(exports, reads, denials int) []*event.AuditEvent {
	var out []*event.AuditEvent
	for i := 0; i < reads; i++ {
		out = append(out, ev("employees", "View Employee Profile", "approved", "x@corp.com", "", t0, nil))
	}
	for i := 0; i < denials; i++ {
		out = append(out, ev("payroll", "Update Bank Details", "rejected", "x@corp.com", "", t0,
			map[string]interface{}{"reason": "insufficient privileges"}))
	}
	for i := 0; i < exports; i++ {
		out = append(out, ev("reports", "Export Headcount", "completed", "x@corp.com", "", t0, nil))
	}
	return out
}

func TestPotentialBreach_AllThreeSignals(t *testing.T) {
	got := run(newPipeline(), breachEvents(2, 6, 2)...)
	f := got[len(got)-1]
	require.NotNil(t, f)
	assert.Equal(t, rules.RulePotentialBreach, f.RuleID)
	assert.Equal(t, rules.SeverityHigh, f.Severity)
	assert.Equal(t, 10, f.ObservedCount)
	assert.Equal(t, 10, f.Threshold)
	assert.True(t, f.RestrictedData)
	for _, g := range got[:len(got)-1] {
		assert.Nil(t, g)
	}
}

func TestPotentialBreach_TwoOfThreeNeverFires(t *testing.T) {
	for name, events := range map[string][]*event.AuditEvent{
		"no_denials": breachEvents(3, 8, 0),
		"few_reads":  breachEvents(3, 5, 2),
		"one_export": breachEvents(1, 8, 2),
	} {
		t.Run(name, func(t *testing.T) {
			for _, f := range run(newPipeline(), events...) {
				assert.Nil(t, f)
			}
		})
	}
}

type stubRule struct {
	id       string
	priority int
}

func (s stubRule) ID() string                                              { return s.id }
func (s stubRule) Kind() rules.Kind                                        { return rules.KindAuthFailureSpike }
func (s stubRule) Priority() int                                           { return s.priority }
func (s stubRule) Info() rules.Info                                        { return rules.Info{ID: s.id} }
func (s stubRule) Evaluate(context.Context, *rules.Context) *rules.Finding { return &rules.Finding{RuleID: s.id} }

func TestPipeline_PriorityNotRegistrationOrder(t *testing.T) {
	p := rules.NewPipeline(stubRule{"late", 90}, stubRule{"early", 5}, stubRule{"mid", 50})
	ids := make([]string, 0, 3)
	for _, r := range p.Rules() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"early", "mid", "late"}, ids)

	f := p.Evaluate(context.Background(), loginFailure("a@corp.com", "1.2.3.4", t0), t0)
	require.NotNil(t, f)
	assert.Equal(t, "early", f.RuleID)
}

func TestBuild_SkipsDisabledRules(t *testing.T) {
	cfg := config.Default().Detection
	off := false
	cfg.Rules.MassExport.Enabled = &off
	p := rules.Build(cfg, window.NewMemoryStore())

	ids := make([]string, 0)
	for _, r := range p.Rules() {
		ids = append(ids, r.ID())
	}
	assert.Len(t, ids, 6)
	assert.NotContains(t, ids, rules.RuleMassExport)
	assert.Equal(t, rules.RuleAuthBruteForce, ids[0])
	assert.Equal(t, rules.RulePotentialBreach, ids[5])
}

func TestNewContext_Normalizes(t *testing.T) {
	e := ev("Payroll", "Export Payslips", "Completed", "  Alice@Corp.COM ", "", time.Time{},
		map[string]interface{}{"owner_email": "Bob@Corp.com"})
	c := rules.NewContext(e, t0)
	assert.Equal(t, "alice@corp.com", c.Actor)
	assert.Equal(t, "completed", c.Status)
	assert.True(t, c.Approved)
	assert.False(t, c.Denied)
	assert.True(t, c.Sensitive)
	assert.True(t, c.IsExport())
	assert.False(t, c.IsView())
	assert.Equal(t, "bob@corp.com", c.Target)
	assert.Equal(t, t0, c.At)
}
