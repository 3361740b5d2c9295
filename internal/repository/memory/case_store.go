package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/repository"
)

// CaseStore keeps cases keyed by ID. Status writes are compare-and-set.
type CaseStore struct {
	mu    sync.RWMutex
	cases map[string]*models.Case
}

// NewCaseStore constructs an empty store.
func NewCaseStore() *CaseStore {
	return &CaseStore{cases: make(map[string]*models.Case)}
}

// Create stores a new case, assigning its ID and timestamps. An incident
// opens at most one case.
func (s *CaseStore) Create(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.IncidentID != "" {
		for _, existing := range s.cases {
			if existing.IncidentID == c.IncidentID {
				return repository.ErrDuplicateCase
			}
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.cases[c.ID] = c.Clone()
	return nil
}

// GetByID returns a copy of the case or sql.ErrNoRows.
func (s *CaseStore) GetByID(_ context.Context, id string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c.Clone(), nil
}

// List returns cases matching the filter, most recently created first.
func (s *CaseStore) List(_ context.Context, filter models.CaseFilter) ([]models.Case, error) {
	s.mu.RLock()
	result := make([]models.Case, 0)
	for _, c := range s.cases {
		if filter.ExpertID != "" && c.ExpertID != filter.ExpertID {
			continue
		}
		if filter.StudentID != "" && c.StudentID != filter.StudentID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, c.Status) {
			continue
		}
		result = append(result, *c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, filter.Limit, filter.Offset), nil
}

// UpdateStatus applies the transition only when the case is still in
// update.From, otherwise it returns sql.ErrNoRows.
func (s *CaseStore) UpdateStatus(_ context.Context, update models.CaseStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[update.ID]
	if !ok || c.Status != update.From {
		return sql.ErrNoRows
	}
	c.Status = update.To
	if update.Monitoring != nil {
		m := *update.Monitoring
		c.Monitoring = &m
	}
	if update.FollowUpAt != nil {
		at := *update.FollowUpAt
		c.FollowUpAt = &at
		c.ReminderSentAt = nil
	}
	if update.ClearFollowUp {
		c.FollowUpAt = nil
		if c.Monitoring != nil {
			c.Monitoring.Active = false
		}
	}
	if update.ClosingNotes != nil {
		notes := *update.ClosingNotes
		c.ClosingNotes = &notes
	}
	if update.ClosedAt != nil {
		at := *update.ClosedAt
		c.ClosedAt = &at
	}
	if update.AddIncidentID != "" && !c.HasIncident(update.AddIncidentID) {
		c.IncidentIDs = append(c.IncidentIDs, update.AddIncidentID)
	}
	c.UpdatedAt = update.UpdatedAt
	return nil
}

// UpdateAssessment stores the expert assessment while the case is open.
func (s *CaseStore) UpdateAssessment(_ context.Context, update models.CaseAssessmentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[update.ID]
	if !ok || !c.Status.Open() {
		return sql.ErrNoRows
	}
	notes := update.Notes
	at := update.AssessedAt
	c.Assessment = &notes
	c.AssessedAt = &at
	c.RecommendedTriggers = append([]string(nil), update.RecommendedTriggers...)
	c.RecommendedStrategies = append([]string(nil), update.RecommendedStrategies...)
	if update.Severity != nil {
		c.Severity = *update.Severity
	}
	c.UpdatedAt = at
	return nil
}

// ListDueFollowUps returns monitored cases whose reminder is due and unsent.
func (s *CaseStore) ListDueFollowUps(_ context.Context, now time.Time, limit int) ([]models.Case, error) {
	s.mu.RLock()
	result := make([]models.Case, 0)
	for _, c := range s.cases {
		if c.Status != models.CaseStatusMonitoring || c.FollowUpAt == nil || c.ReminderSentAt != nil {
			continue
		}
		if c.FollowUpAt.After(now) {
			continue
		}
		result = append(result, *c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].FollowUpAt.Before(*result[j].FollowUpAt)
	})
	return paginate(result, limit, 0), nil
}

// MarkReminderSent records reminder delivery for the given follow-up window.
func (s *CaseStore) MarkReminderSent(_ context.Context, id string, followUpAt, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok || c.Status != models.CaseStatusMonitoring || c.ReminderSentAt != nil {
		return sql.ErrNoRows
	}
	if c.FollowUpAt == nil || !c.FollowUpAt.Equal(followUpAt) {
		return sql.ErrNoRows
	}
	sent := at
	c.ReminderSentAt = &sent
	return nil
}

// SetParentAcknowledged raises the parent-visible acknowledgment flag.
func (s *CaseStore) SetParentAcknowledged(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.ParentAcknowledged = true
	return nil
}

// Delete removes a case that was never linked to its incident.
func (s *CaseStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.cases, id)
	return nil
}

func containsStatus(statuses []models.CaseStatus, status models.CaseStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
