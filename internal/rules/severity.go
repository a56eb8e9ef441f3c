package rules

// Severity is the severity carried by a Finding.
type Severity string

const (
	SeverityLow  Severity = "Low"
	SeverityHigh Severity = "High"
)

// Base is a rule's intrinsic severity before count escalation.
type Base string

const (
	BaseLow      Base = "low"
	BaseHigh     Base = "high"
	BaseCritical Base = "critical"
)

// ChooseSeverity resolves the final severity. A critical base is always High;
// otherwise reaching twice the threshold escalates to High whatever the base.
func ChooseSeverity(base Base, observed, threshold int) Severity {
	switch {
	case base == BaseCritical:
		return SeverityHigh
	case observed >= 2*threshold:
		return SeverityHigh
	case base == BaseHigh:
		return SeverityHigh
	default:
		return SeverityLow
	}
}
