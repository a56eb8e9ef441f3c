package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

// thresholdRule counts qualifying events under a single key and fires once
// the count reaches threshold within the window.
type thresholdRule struct {
	id           string
	kind         Kind
	priority     int
	incidentType string
	threshold    int
	window       time.Duration
	counters     window.CounterStore

	match      func(c *Context) bool
	subject    func(c *Context) Subject
	base       func(c *Context) Base
	restricted func(c *Context) bool
	describe   func(c *Context, f *Finding)
}

func (r *thresholdRule) ID() string    { return r.id }
func (r *thresholdRule) Kind() Kind    { return r.kind }
func (r *thresholdRule) Priority() int { return r.priority }

func (r *thresholdRule) Info() Info {
	return Info{
		ID:            r.id,
		Kind:          r.kind.String(),
		Priority:      r.priority,
		WindowMinutes: minutes(r.window),
		Thresholds:    map[string]int{"count": r.threshold},
	}
}

func (r *thresholdRule) Evaluate(ctx context.Context, c *Context) *Finding {
	if !r.match(c) {
		return nil
	}
	subj := r.subject(c)
	key := subjectKey(subj)
	if key == "" {
		return nil
	}
	n := r.counters.Observe(ctx, r.id+"|"+key, c.At, r.window)
	if n < r.threshold {
		return nil
	}
	base := r.base(c)
	f := &Finding{
		RuleID:         r.id,
		IncidentType:   r.incidentType,
		Severity:       ChooseSeverity(base, n, r.threshold),
		BaseSeverity:   base,
		RestrictedData: r.restricted(c),
		ObservedCount:  n,
		Threshold:      r.threshold,
		WindowMinutes:  minutes(r.window),
		AffectedPerson: c.Affected(),
		Subject:        subj,
		ObservedAt:     c.At,
	}
	r.describe(c, f)
	return f
}

func subjectKey(s Subject) string {
	var parts []string
	for _, p := range []string{s.Actor, s.SourceIP, s.Module, s.Target} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "|")
}

func fixed(b Base) func(*Context) Base  { return func(*Context) Base { return b } }
func always(v bool) func(*Context) bool { return func(*Context) bool { return v } }
func byActor(c *Context) Subject        { return Subject{Actor: c.Actor} }

func sensitiveBase(c *Context) Base {
	if c.Sensitive {
		return BaseHigh
	}
	return BaseLow
}

func minutes(d time.Duration) int { return int(d / time.Minute) }

func authFailureSpike(counters window.CounterStore, conf config.ThresholdRule) Rule {
	return &thresholdRule{
		id:           RuleAuthBruteForce,
		kind:         KindAuthFailureSpike,
		priority:     10,
		incidentType: "brute_force",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match:        func(c *Context) bool { return c.Denied && c.IsAuth() },
		subject: func(c *Context) Subject {
			if c.SourceIP != "" {
				return Subject{SourceIP: c.SourceIP}
			}
			return Subject{Actor: c.Actor}
		},
		base:       fixed(BaseHigh),
		restricted: always(false),
		describe: func(c *Context, f *Finding) {
			f.Title = fmt.Sprintf("Repeated authentication failures from %s", c.SourceKey())
			f.Summary = fmt.Sprintf("%d failed sign-in attempts from %s within %d minutes (threshold %d).",
				f.ObservedCount, c.SourceKey(), f.WindowMinutes, f.Threshold)
			f.Tags = []string{"authentication", "brute-force"}
		},
	}
}

func permissionDeniedSpike(counters window.CounterStore, conf config.ThresholdRule) Rule {
	return &thresholdRule{
		id:           RulePermissionDeniedSpike,
		kind:         KindPermissionDeniedSpike,
		priority:     20,
		incidentType: "unauthorized_access",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match:        func(c *Context) bool { return c.AuthorizationDenied() },
		subject:      byActor,
		base:         sensitiveBase,
		restricted:   func(c *Context) bool { return c.Sensitive },
		describe: func(c *Context, f *Finding) {
			f.Title = fmt.Sprintf("Repeated permission denials for %s", c.Actor)
			f.Summary = fmt.Sprintf("%s was denied access %d times within %d minutes (threshold %d); last attempt on %s / %s.",
				c.Actor, f.ObservedCount, f.WindowMinutes, f.Threshold, c.Module, c.Activity)
			f.Tags = []string{"authorization", "access-denied"}
		},
	}
}

func offboardedAccountAccess(counters window.CounterStore, conf config.ThresholdRule) Rule {
	return &thresholdRule{
		id:           RuleOffboardedAccountAccess,
		kind:         KindOffboardedAccountAccess,
		priority:     30,
		incidentType: "compromised_account",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match:        func(c *Context) bool { return c.Denied && c.IsAuth() && c.AccountDisabled() },
		subject:      byActor,
		base:         fixed(BaseHigh),
		restricted:   always(false),
		describe: func(c *Context, f *Finding) {
			f.AffectedPerson = c.Actor
			f.Title = fmt.Sprintf("Sign-in attempts on disabled account %s", c.Actor)
			f.Summary = fmt.Sprintf("%d sign-in attempts on a disabled or offboarded account within %d minutes (threshold %d). Reason: %s.",
				f.ObservedCount, f.WindowMinutes, f.Threshold, c.Reason)
			f.Tags = []string{"authentication", "offboarding"}
		},
	}
}

func privilegedRoleAssignment(counters window.CounterStore, conf config.RoleRule) Rule {
	privileged := make(map[string]struct{}, len(conf.PrivilegedRoles))
	for _, r := range conf.PrivilegedRoles {
		privileged[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return &thresholdRule{
		id:           RulePrivilegedRoleAssignment,
		kind:         KindPrivilegedRoleAssignment,
		priority:     40,
		incidentType: "privilege_escalation",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match: func(c *Context) bool {
			if !c.Approved || !c.IsRoleAssignment() {
				return false
			}
			_, ok := privileged[c.Role]
			return ok
		},
		subject: func(c *Context) Subject {
			return Subject{Actor: c.Actor, Module: strings.ToLower(c.Module), Target: "role:" + c.Role}
		},
		base:       fixed(BaseHigh),
		restricted: always(false),
		describe: func(c *Context, f *Finding) {
			f.Title = fmt.Sprintf("Privileged role %q assigned repeatedly by %s", c.Role, c.Actor)
			f.Summary = fmt.Sprintf("%s assigned the %s role %d times within %d minutes (threshold %d); latest target %s.",
				c.Actor, c.Role, f.ObservedCount, f.WindowMinutes, f.Threshold, c.Affected())
			f.Tags = []string{"rbac", "privilege-escalation"}
		},
	}
}

func massExport(counters window.CounterStore, conf config.ThresholdRule) Rule {
	return &thresholdRule{
		id:           RuleMassExport,
		kind:         KindMassExport,
		priority:     50,
		incidentType: "data_exfiltration",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match:        func(c *Context) bool { return c.Approved && c.IsExport() },
		subject:      byActor,
		base:         fixed(BaseHigh),
		restricted:   always(true),
		describe: func(c *Context, f *Finding) {
			f.AffectedPerson = c.Actor
			f.Title = fmt.Sprintf("Mass data export by %s", c.Actor)
			f.Summary = fmt.Sprintf("%s completed %d exports within %d minutes (threshold %d); latest from %s.",
				c.Actor, f.ObservedCount, f.WindowMinutes, f.Threshold, c.Module)
			f.Tags = []string{"export", "data-exfiltration"}
		},
	}
}

func unauthorizedRecordView(counters window.CounterStore, conf config.ThresholdRule) Rule {
	return &thresholdRule{
		id:           RuleUnauthorizedRecordView,
		kind:         KindUnauthorizedRecordView,
		priority:     60,
		incidentType: "unauthorized_access",
		threshold:    conf.Threshold,
		window:       conf.Window(),
		counters:     counters,
		match:        func(c *Context) bool { return c.Denied && c.IsView() && c.IsPersonnelRecord() },
		subject:      byActor,
		base:         fixed(BaseLow),
		restricted:   func(c *Context) bool { return c.Sensitive },
		describe: func(c *Context, f *Finding) {
			f.AffectedPerson = c.Actor
			f.Title = fmt.Sprintf("Repeated denied record views by %s", c.Actor)
			f.Summary = fmt.Sprintf("%s was refused %d personnel record views within %d minutes (threshold %d).",
				c.Actor, f.ObservedCount, f.WindowMinutes, f.Threshold)
			f.Tags = []string{"records", "access-denied"}
		},
	}
}

// breachRule fires only when three independent per-actor counters clear their
// thresholds inside one window. The event's own counter is observed, the
// others are peeked.
type breachRule struct {
	counters window.CounterStore
	conf     config.BreachSignalRule
}

func potentialBreach(counters window.CounterStore, conf config.BreachSignalRule) Rule {
	return &breachRule{counters: counters, conf: conf}
}

func (r *breachRule) ID() string    { return RulePotentialBreach }
func (r *breachRule) Kind() Kind    { return KindPotentialBreach }
func (r *breachRule) Priority() int { return 70 }

func (r *breachRule) Info() Info {
	return Info{
		ID:            RulePotentialBreach,
		Kind:          KindPotentialBreach.String(),
		Priority:      r.Priority(),
		WindowMinutes: r.conf.WindowMinutes,
		Thresholds: map[string]int{
			"export": r.conf.ExportThreshold,
			"read":   r.conf.ReadThreshold,
			"denial": r.conf.DenialThreshold,
		},
	}
}

func (r *breachRule) Evaluate(ctx context.Context, c *Context) *Finding {
	if c.Actor == "" {
		return nil
	}
	w := r.conf.Window()
	count := func(signal string, hit bool) int {
		key := RulePotentialBreach + "|" + signal + "|" + c.Actor
		if hit {
			return r.counters.Observe(ctx, key, c.At, w)
		}
		return r.counters.Peek(ctx, key, c.At, w)
	}
	exports := count("export", c.Approved && c.IsExport())
	reads := count("read", c.Approved && c.IsView() && c.Sensitive)
	denials := count("denial", c.AuthorizationDenied())

	if exports < r.conf.ExportThreshold || reads < r.conf.ReadThreshold || denials < r.conf.DenialThreshold {
		return nil
	}
	observed := exports + reads + denials
	threshold := r.conf.ExportThreshold + r.conf.ReadThreshold + r.conf.DenialThreshold
	return &Finding{
		RuleID:         RulePotentialBreach,
		IncidentType:   "data_breach",
		Severity:       ChooseSeverity(BaseCritical, observed, threshold),
		BaseSeverity:   BaseCritical,
		RestrictedData: true,
		ObservedCount:  observed,
		Threshold:      threshold,
		WindowMinutes:  minutes(w),
		AffectedPerson: c.Actor,
		Title:          fmt.Sprintf("Potential data breach by %s", c.Actor),
		Summary: fmt.Sprintf("%s combined %d exports, %d sensitive record reads and %d authorization denials within %d minutes.",
			c.Actor, exports, reads, denials, minutes(w)),
		Tags:       []string{"data-breach", "export", "sensitive-read", "access-denied"},
		Subject:    Subject{Actor: c.Actor},
		ObservedAt: c.At,
	}
}
