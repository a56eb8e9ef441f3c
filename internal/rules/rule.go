// Package rules holds the detection pipeline: a prioritized list of detectors
// that turn an audit event into at most one Finding.
package rules

import (
	"context"
	"fmt"
)

// Kind tags a detector variant.
type Kind int

const (
	KindAuthFailureSpike Kind = iota + 1
	KindPermissionDeniedSpike
	KindOffboardedAccountAccess
	KindPrivilegedRoleAssignment
	KindMassExport
	KindUnauthorizedRecordView
	KindPotentialBreach
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailureSpike:
		return "auth_failure_spike"
	case KindPermissionDeniedSpike:
		return "permission_denied_spike"
	case KindOffboardedAccountAccess:
		return "offboarded_account_access"
	case KindPrivilegedRoleAssignment:
		return "privileged_role_assignment"
	case KindMassExport:
		return "mass_export"
	case KindUnauthorizedRecordView:
		return "unauthorized_record_view"
	case KindPotentialBreach:
		return "potential_breach"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rule IDs as they appear on findings and incidents.
const (
	RuleAuthBruteForce           = "AUTH_BRUTE_FORCE"
	RulePermissionDeniedSpike    = "PERMISSION_DENIED_SPIKE"
	RuleOffboardedAccountAccess  = "OFFBOARDED_ACCOUNT_ACCESS"
	RulePrivilegedRoleAssignment = "PRIVILEGED_ROLE_ASSIGNMENT"
	RuleMassExport               = "MASS_EXPORT"
	RuleUnauthorizedRecordView   = "UNAUTHORIZED_RECORD_VIEW"
	RulePotentialBreach          = "POTENTIAL_BREACH"
)

// Rule is a single detector. Evaluate returns nil when the event does not
// produce a finding. Lower Priority values run first.
type Rule interface {
	ID() string
	Kind() Kind
	Priority() int
	Evaluate(ctx context.Context, c *Context) *Finding
	Info() Info
}

// Info describes a rule's effective settings.
type Info struct {
	ID            string         `json:"id"`
	Kind          string         `json:"kind"`
	Priority      int            `json:"priority"`
	WindowMinutes int            `json:"window_minutes"`
	Thresholds    map[string]int `json:"thresholds"`
}
