package rules

import (
	"strings"
	"time"
	"unicode"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
)

var (
	deniedStatuses   = set("rejected", "failed", "denied", "forbidden", "unauthorized", "blocked")
	approvedStatuses = set("approved", "completed", "success", "succeeded")

	authWords   = set("login", "signin", "logon", "auth", "authentication", "authenticate", "mfa", "otp", "sso")
	exportWords = set("export", "exports", "exported", "download", "downloaded", "extract", "csv")
	viewWords   = set("view", "viewed", "list", "read", "get", "open", "opened", "access", "accessed", "search")
	roleWords   = set("role", "roles")
	assignWords = set("assign", "assigned", "update", "updated", "change", "changed", "grant", "granted", "promote", "set")

	// Vocabulary that marks personally identifying HR data.
	sensitiveWords = set("employee", "employees", "personnel", "payroll", "salary", "compensation", "ssn",
		"bank", "medical", "health", "tax", "passport", "identity", "dependent", "dependents", "personal", "pii")
	recordWords = set("profile", "profiles", "record", "records", "directory", "staff", "document", "documents")

	authzDenialWords = set("forbidden", "unauthorized", "unauthorised", "permission", "permissions",
		"privilege", "privileges", "insufficient", "rbac", "scope", "403", "denied")
	offboardedWords = set("disabled", "inactive", "deactivated", "offboarded", "terminated", "suspended", "archived")
)

// Context is the per-event view the detectors read. It is extracted once per
// event and shared by every rule.
type Context struct {
	Event *event.AuditEvent

	Actor     string
	Status    string
	Module    string
	Activity  string
	Reason    string
	SourceIP  string
	Target    string
	Role      string
	Sensitive bool
	Denied    bool
	Approved  bool
	At        time.Time

	text   map[string]struct{}
	reason map[string]struct{}
}

// NewContext normalizes ev. now is used when the event carries no timestamp.
func NewContext(ev *event.AuditEvent, now time.Time) *Context {
	c := &Context{
		Event:    ev,
		Actor:    strings.ToLower(strings.TrimSpace(ev.PerformedBy)),
		Status:   strings.ToLower(strings.TrimSpace(ev.Status)),
		Module:   strings.TrimSpace(ev.Module),
		Activity: strings.TrimSpace(ev.ActivityName),
		Reason:   ev.MetaString("reason", "denial_reason", "error"),
		SourceIP: strings.TrimSpace(ev.SourceIP),
		Target:   strings.ToLower(ev.MetaString("target_employee", "target_email", "employee_email", "owner_email", "employee_id")),
		Role:     strings.ToLower(ev.MetaString("role", "new_role", "assigned_role")),
		At:       ev.Time(now),
	}
	if c.Actor == "" {
		c.Actor = strings.ToLower(ev.MetaString("actor_email"))
	}
	_, c.Denied = deniedStatuses[c.Status]
	_, c.Approved = approvedStatuses[c.Status]

	c.text = tokens(c.Module, c.Activity, ev.RequestPath)
	c.reason = tokens(c.Reason)
	c.Sensitive = ev.MetaBool("sensitive") || c.mentions(sensitiveWords)
	return c
}

// IsAuth reports whether the event is an authentication attempt.
func (c *Context) IsAuth() bool { return c.mentions(authWords) }

// IsExport reports whether the event is a bulk export or download.
func (c *Context) IsExport() bool { return c.mentions(exportWords) }

// IsView reports whether the event reads or lists records.
func (c *Context) IsView() bool { return c.mentions(viewWords) && !c.IsExport() }

// IsRoleAssignment reports whether the event changes someone's role.
func (c *Context) IsRoleAssignment() bool {
	if !c.mentions(roleWords) {
		return false
	}
	return c.mentions(assignWords) || c.Role != ""
}

// IsPersonnelRecord reports whether the event concerns employee records.
func (c *Context) IsPersonnelRecord() bool { return c.Sensitive || c.mentions(recordWords) }

// AuthorizationDenied reports whether a denial was an authorization decision.
func (c *Context) AuthorizationDenied() bool {
	if !c.Denied {
		return false
	}
	if c.Status == "forbidden" || c.Status == "unauthorized" {
		return true
	}
	return hasAny(c.reason, authzDenialWords)
}

// AccountDisabled reports whether the denial reason points at a disabled,
// inactive or offboarded account.
func (c *Context) AccountDisabled() bool { return hasAny(c.reason, offboardedWords) }

// SourceKey is the source IP, or the actor when no IP was recorded.
func (c *Context) SourceKey() string {
	if c.SourceIP != "" {
		return c.SourceIP
	}
	return c.Actor
}

// Affected returns the person the event is about: its target, else its actor.
func (c *Context) Affected() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Actor
}

func (c *Context) mentions(words map[string]struct{}) bool { return hasAny(c.text, words) }

func tokens(parts ...string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, p := range parts {
		for _, f := range strings.FieldsFunc(strings.ToLower(p), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			out[f] = struct{}{}
		}
	}
	return out
}

func hasAny(have, want map[string]struct{}) bool {
	for w := range have {
		if _, ok := want[w]; ok {
			return true
		}
	}
	return false
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
