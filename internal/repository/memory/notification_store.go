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

type inboxKey struct {
	role models.UserRole
	id   string
}

type notificationRecord struct {
	event models.NotificationEvent
	seq   uint64
}

// NotificationStore keeps one append-only queue per recipient.
type NotificationStore struct {
	mu     sync.RWMutex
	events map[string]*notificationRecord
	inbox  map[inboxKey][]*notificationRecord
	seq    uint64
}

// NewNotificationStore constructs an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		events: make(map[string]*notificationRecord),
		inbox:  make(map[inboxKey][]*notificationRecord),
	}
}

// Create appends the event to its recipient's queue.
func (s *NotificationStore) Create(_ context.Context, event *models.NotificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.seq++
	rec := &notificationRecord{event: *event, seq: s.seq}
	s.events[event.ID] = rec
	key := inboxKey{role: event.RecipientRole, id: event.RecipientID}
	s.inbox[key] = append(s.inbox[key], rec)
	return nil
}

// GetByID returns the event or sql.ErrNoRows.
func (s *NotificationStore) GetByID(_ context.Context, id string) (*models.NotificationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneEvent(rec.event)
	return &out, nil
}

// List returns the recipient's events newest first.
func (s *NotificationStore) List(_ context.Context, filter models.NotificationFilter) ([]models.NotificationEvent, error) {
	s.mu.RLock()
	queue := s.inbox[inboxKey{role: filter.RecipientRole, id: filter.RecipientID}]
	records := make([]*notificationRecord, 0, len(queue))
	for _, rec := range queue {
		if filter.UnreadOnly && rec.event.ReadAt != nil {
			continue
		}
		records = append(records, rec)
	}
	result := make([]models.NotificationEvent, 0, len(records))
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.event.CreatedAt.Equal(b.event.CreatedAt) {
			return a.event.CreatedAt.After(b.event.CreatedAt)
		}
		return a.seq > b.seq
	})
	for _, rec := range records {
		result = append(result, cloneEvent(rec.event))
	}
	s.mu.RUnlock()
	return paginate(result, filter.PageSize(), 0), nil
}

// MarkRead sets readAt once; it returns sql.ErrNoRows for unknown events.
func (s *NotificationStore) MarkRead(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return sql.ErrNoRows
	}
	if rec.event.ReadAt == nil {
		ts := at
		rec.event.ReadAt = &ts
	}
	return nil
}

// MarkAllRead marks every unread event for the recipient and returns the count.
func (s *NotificationStore) MarkAllRead(_ context.Context, role models.UserRole, recipientID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, rec := range s.inbox[inboxKey{role: role, id: recipientID}] {
		if rec.event.ReadAt == nil {
			ts := at
			rec.event.ReadAt = &ts
			updated++
		}
	}
	return updated, nil
}

// CountUnread returns the number of unread events for the recipient.
func (s *NotificationStore) CountUnread(_ context.Context, role models.UserRole, recipientID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.inbox[inboxKey{role: role, id: recipientID}] {
		if rec.event.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func cloneEvent(in models.NotificationEvent) models.NotificationEvent {
	out := in
	if in.ReadAt != nil {
		at := *in.ReadAt
		out.ReadAt = &at
	}
	return out
}
