// Package memory provides in-memory implementations of the casework stores
// used for local development and tests. Every store guards its state with a
// single RWMutex and returns copies, never shared pointers.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

type incidentRecord struct {
	incident models.Incident
	seq      uint64
}

// IncidentStore keeps incidents keyed by ID.
type IncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*incidentRecord
	seq       uint64
}

// NewIncidentStore constructs an empty store.
func NewIncidentStore() *IncidentStore {
	return &IncidentStore{incidents: make(map[string]*incidentRecord)}
}

// Create stores a new incident, assigning its ID and timestamps.
func (s *IncidentStore) Create(_ context.Context, incident *models.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now
	s.seq++
	s.incidents[incident.ID] = &incidentRecord{incident: cloneIncident(*incident), seq: s.seq}
	return nil
}

// GetByID returns a copy of the incident or sql.ErrNoRows.
func (s *IncidentStore) GetByID(_ context.Context, id string) (*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.incidents[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneIncident(rec.incident)
	return &out, nil
}

// ListByStudent returns the student's incidents, newest first.
func (s *IncidentStore) ListByStudent(_ context.Context, studentID string) ([]models.Incident, error) {
	s.mu.RLock()
	records := make([]*incidentRecord, 0)
	for _, rec := range s.incidents {
		if rec.incident.StudentID == studentID {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.incident.OccurredAt.Equal(b.incident.OccurredAt) {
			return a.incident.OccurredAt.After(b.incident.OccurredAt)
		}
		return a.seq > b.seq
	})
	result := make([]models.Incident, 0, len(records))
	for _, rec := range records {
		result = append(result, cloneIncident(rec.incident))
	}
	return result, nil
}

// MarkEscalated links the case and flips the outcome to escalated. It returns
// sql.ErrNoRows when the incident is missing or already linked.
func (s *IncidentStore) MarkEscalated(_ context.Context, incidentID, caseID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.incidents[incidentID]
	if !ok || rec.incident.Escalated() {
		return sql.ErrNoRows
	}
	id := caseID
	rec.incident.CaseID = &id
	rec.incident.Outcome = models.OutcomeEscalated
	rec.incident.UpdatedAt = at
	return nil
}

// UnlinkCase reverses MarkEscalated when the incident is linked to caseID.
func (s *IncidentStore) UnlinkCase(_ context.Context, incidentID, caseID string, outcome models.IncidentOutcome, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.incidents[incidentID]
	if !ok || rec.incident.CaseID == nil || *rec.incident.CaseID != caseID {
		return sql.ErrNoRows
	}
	rec.incident.CaseID = nil
	rec.incident.Outcome = outcome
	rec.incident.UpdatedAt = at
	return nil
}

// Delete removes an incident that never became visible to other actors.
func (s *IncidentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.incidents, id)
	return nil
}

func cloneIncident(in models.Incident) models.Incident {
	out := in
	if in.Strategies != nil {
		out.Strategies = append(models.Strategies(nil), in.Strategies...)
	}
	if in.CaseID != nil {
		id := *in.CaseID
		out.CaseID = &id
	}
	if in.Notes != nil {
		notes := *in.Notes
		out.Notes = &notes
	}
	return out
}
