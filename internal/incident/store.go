package incident

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/hrguard/internal/event"
	"github.com/gyaneshwarpardhi/hrguard/internal/rules"
)

// Store persists incidents.
type Store interface {
	// Create stores inc, assigning an ID when empty, and returns the stored copy.
	// It returns ErrConflict when inc is open and another open incident already
	// has its correlation key.
	Create(ctx context.Context, inc *Incident, actor string) (*Incident, error)
	// Update applies mutate to the stored incident atomically. It returns
	// ErrNotFound when id does not exist.
	Update(ctx context.Context, id string, mutate func(*Incident), actor string) (*Incident, error)
	// List returns all incidents, newest first.
	List(ctx context.Context) ([]*Incident, error)
}

// OpenFinder is implemented by stores that can look up an open incident by
// correlation key or fingerprint without listing everything.
type OpenFinder interface {
	FindOpen(ctx context.Context, correlationKey, fingerprint string) (*Incident, error)
}

// InAppNotification is an in-app notice for one recipient.
type InAppNotification struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id"`
	Recipient  string    `json:"recipient"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Link       string    `json:"link,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notifier resolves recipients and delivers alerts. DispatchAlerts never
// fails; delivery problems are reported in the summary.
type Notifier interface {
	ResolveRecipients(ctx context.Context, inc *Incident, f *rules.Finding) ([]string, error)
	CreateInAppNotifications(ctx context.Context, list []InAppNotification) ([]InAppNotification, error)
	DispatchAlerts(ctx context.Context, inc *Incident, f *rules.Finding, ev *event.AuditEvent, recipients []string) DeliverySummary
}

// Suppression is the trail left by a detection dropped by cooldown.
type Suppression struct {
	ID             string    `json:"id"`
	RuleID         string    `json:"rule_id"`
	Fingerprint    string    `json:"fingerprint"`
	CorrelationKey string    `json:"correlation_key"`
	EventID        string    `json:"event_id"`
	Actor          string    `json:"actor,omitempty"`
	SourceIP       string    `json:"source_ip,omitempty"`
	ObservedCount  int       `json:"observed_count"`
	ObservedAt     time.Time `json:"observed_at"`
}

// SuppressionRecorder persists suppressed detections.
type SuppressionRecorder interface {
	RecordSuppression(ctx context.Context, s Suppression) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*Incident), now: time.Now}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, inc *Incident, actor string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.Status.IsOpen() && inc.CorrelationKey != "" {
		for _, cur := range s.incidents {
			if cur.Status.IsOpen() && cur.CorrelationKey == inc.CorrelationKey {
				return nil, ErrConflict
			}
		}
	}
	c := inc.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := s.now().UTC()
	c.CreatedBy, c.UpdatedBy = actor, actor
	c.CreatedAt, c.UpdatedAt = now, now
	s.incidents[c.ID] = c
	return c.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*Incident), actor string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	mutate(next)
	next.ID = id
	next.UpdatedBy = actor
	next.UpdatedAt = s.now().UTC()
	s.incidents[id] = next
	return next.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// FindOpen implements OpenFinder.
func (s *MemoryStore) FindOpen(_ context.Context, correlationKey, fingerprint string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Incident
	for _, inc := range s.incidents {
		if !matches(inc, correlationKey, fingerprint) {
			continue
		}
		if best == nil || inc.LastObservedAt.After(best.LastObservedAt) {
			best = inc
		}
	}
	return best.Clone(), nil
}

func matches(inc *Incident, correlationKey, fingerprint string) bool {
	if !inc.Status.IsOpen() {
		return false
	}
	return (correlationKey != "" && inc.CorrelationKey == correlationKey) ||
		(fingerprint != "" && inc.Fingerprint == fingerprint)
}
