package rules

import "time"

// Finding is the output of a single rule matching an event. It is never
// mutated after the pipeline returns it.
type Finding struct {
	RuleID         string   `json:"rule_id"`
	IncidentType   string   `json:"incident_type"`
	Severity       Severity `json:"severity"`
	BaseSeverity   Base     `json:"base_severity"`
	RestrictedData bool     `json:"restricted_data"`
	ObservedCount  int      `json:"observed_count"`
	Threshold      int      `json:"threshold"`
	WindowMinutes  int      `json:"window_minutes"`
	AffectedPerson string   `json:"affected_person,omitempty"`
	Title          string   `json:"title"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags,omitempty"`

	Subject    Subject   `json:"subject"`
	ObservedAt time.Time `json:"observed_at"`
}

// Subject identifies what a detection is about. Rules fill exactly the fields
// their counter is keyed on, so every event counted toward a finding maps to
// the same fingerprint and correlation key.
type Subject struct {
	Actor    string `json:"actor,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`
	Module   string `json:"module,omitempty"`
	Target   string `json:"target,omitempty"`
}

// Window returns the rule window as a duration.
func (f *Finding) Window() time.Duration {
	return time.Duration(f.WindowMinutes) * time.Minute
}
