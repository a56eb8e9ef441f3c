// Package incident owns the security incident model and the consolidation
// logic that decides whether a finding merges into an open incident, is
// suppressed by cooldown, or opens a new incident.
package incident

import (
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// HistoryLimit is the number of occurrences retained per incident.
const HistoryLimit = 40

// ErrNotFound is returned by Store.Update when the incident does not exist.
var ErrNotFound = errors.New("incident not found")

// ErrConflict is returned by Store.Create when an open incident already owns
// the correlation key.
var ErrConflict = errors.New("open incident already exists for correlation key")

// Status is the incident workflow status.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusContained     Status = "contained"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// IsOpen reports whether findings may still merge into an incident with this status.
func (s Status) IsOpen() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusContained:
		return true
	}
	return false
}

// Workflow defaults for auto-generated incidents.
const (
	ContainmentNotStarted = "not_started"
	ImpactPending         = "pending"
)

// Occurrence records one event that contributed to an incident.
type Occurrence struct {
	At            time.Time `json:"at"`
	Activity      string    `json:"activity"`
	Module        string    `json:"module"`
	EventID       string    `json:"event_id"`
	SourceIP      string    `json:"source_ip,omitempty"`
	RequestPath   string    `json:"request_path,omitempty"`
	RequestMethod string    `json:"request_method,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Target        string    `json:"target,omitempty"`
}

// ChannelResult is the outcome of one alert channel.
type ChannelResult struct {
	Channel    string `json:"channel"`
	Recipients int    `json:"recipients"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// DeliverySummary describes an alert dispatch. Failures live here rather than
// in an error return.
type DeliverySummary struct {
	DispatchedAt time.Time       `json:"dispatched_at"`
	Recipients   int             `json:"recipients"`
	InApp        int             `json:"in_app"`
	Delivered    int             `json:"delivered"`
	Failed       int             `json:"failed"`
	Channels     []ChannelResult `json:"channels,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Incident is a tracked security incident.
type Incident struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Summary      string         `json:"summary"`
	IncidentType string         `json:"incident_type"`
	RuleID       string         `json:"rule_id"`
	Severity     rules.Severity `json:"severity"`
	Status       Status         `json:"status"`

	Fingerprint     string       `json:"detection_fingerprint"`
	CorrelationKey  string       `json:"detection_correlation_key"`
	OccurrenceCount int          `json:"occurrence_count"`
	Occurrences     []Occurrence `json:"occurrences"`
	FirstObservedAt time.Time    `json:"first_observed_at"`
	LastObservedAt  time.Time    `json:"last_observed_at"`
	AffectedPerson  string       `json:"affected_person,omitempty"`

	RestrictedData                 bool   `json:"restricted_data"`
	ContainmentStatus              string `json:"containment_status"`
	ImpactAssessment               string `json:"impact_assessment"`
	RegulatoryNotificationRequired bool   `json:"regulatory_notification_required"`
	Notes                          string `json:"notes"`
	AutoGenerated                  bool   `json:"auto_generated"`

	Recipients   []string         `json:"alert_recipients,omitempty"`
	LastDelivery *DeliverySummary `json:"last_delivery,omitempty"`

	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	c := *i
	c.Occurrences = append([]Occurrence(nil), i.Occurrences...)
	c.Recipients = append([]string(nil), i.Recipients...)
	if i.LastDelivery != nil {
		d := *i.LastDelivery
		d.Channels = append([]ChannelResult(nil), i.LastDelivery.Channels...)
		c.LastDelivery = &d
	}
	return &c
}
