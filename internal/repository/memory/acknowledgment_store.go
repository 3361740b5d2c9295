package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

// AcknowledgmentStore keeps one record per (target, parent).
type AcknowledgmentStore struct {
	mu      sync.RWMutex
	records map[models.AcknowledgmentKey]*models.Acknowledgment
}

// NewAcknowledgmentStore constructs an empty store.
func NewAcknowledgmentStore() *AcknowledgmentStore {
	return &AcknowledgmentStore{records: make(map[models.AcknowledgmentKey]*models.Acknowledgment)}
}

// Get returns the record or sql.ErrNoRows.
func (s *AcknowledgmentStore) Get(_ context.Context, key models.AcknowledgmentKey) (*models.Acknowledgment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneAck(rec), nil
}

// EnsureDefault creates an unacknowledged record when none exists and returns
// the stored record either way.
func (s *AcknowledgmentStore) EnsureDefault(_ context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAck(s.ensure(key, at)), nil
}

// MarkAcknowledged sets acknowledgedAt once; later calls leave it untouched.
func (s *AcknowledgmentStore) MarkAcknowledged(_ context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key, at)
	if !rec.Acknowledged {
		ts := at
		rec.Acknowledged = true
		rec.AcknowledgedAt = &ts
	}
	return cloneAck(rec), nil
}

// SaveFeedback overwrites the single feedback slot.
func (s *AcknowledgmentStore) SaveFeedback(_ context.Context, key models.AcknowledgmentKey, text string, at time.Time) (*models.Acknowledgment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(key, at)
	body := text
	ts := at
	rec.FeedbackText = &body
	rec.FeedbackSentAt = &ts
	return cloneAck(rec), nil
}

// ListForTarget returns every parent's record for the target ordered by parent.
func (s *AcknowledgmentStore) ListForTarget(_ context.Context, targetType models.TargetType, targetID string) ([]models.Acknowledgment, error) {
	s.mu.RLock()
	result := make([]models.Acknowledgment, 0)
	for key, rec := range s.records {
		if key.TargetType == targetType && key.TargetID == targetID {
			result = append(result, *cloneAck(rec))
		}
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].ParentID < result[j].ParentID })
	return result, nil
}

func (s *AcknowledgmentStore) ensure(key models.AcknowledgmentKey, at time.Time) *models.Acknowledgment {
	rec, ok := s.records[key]
	if !ok {
		rec = &models.Acknowledgment{
			TargetType: key.TargetType,
			TargetID:   key.TargetID,
			ParentID:   key.ParentID,
			CreatedAt:  at,
		}
		s.records[key] = rec
	}
	return rec
}

func cloneAck(in *models.Acknowledgment) *models.Acknowledgment {
	out := *in
	if in.AcknowledgedAt != nil {
		at := *in.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if in.FeedbackText != nil {
		text := *in.FeedbackText
		out.FeedbackText = &text
	}
	if in.FeedbackSentAt != nil {
		at := *in.FeedbackSentAt
		out.FeedbackSentAt = &at
	}
	return &out
}
