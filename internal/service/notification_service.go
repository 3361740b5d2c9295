package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

const defaultInboxPage = 50

type notificationStore interface {
	Create(ctx context.Context, event *models.NotificationEvent) error
	GetByID(ctx context.Context, id string) (*models.NotificationEvent, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationEvent, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, role models.UserRole, recipientID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, role models.UserRole, recipientID string) (int, error)
}

// notificationPublisher is the slice of NotificationService the workflow services depend on.
type notificationPublisher interface {
	Publish(ctx context.Context, event models.NotificationEvent) (*models.NotificationEvent, error)
}

// NotificationService appends events to recipient inboxes. It applies no
// fan-out rules; callers publish one event per recipient.
type NotificationService struct {
	repo    notificationStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(repo notificationStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish appends the event to its recipient's queue.
func (s *NotificationService) Publish(ctx context.Context, event models.NotificationEvent) (*models.NotificationEvent, error) {
	if !event.RecipientRole.Valid() || strings.TrimSpace(event.RecipientID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification recipient is required")
	}
	if event.Kind == "" || event.SubjectID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification kind and subject are required")
	}
	event.ID = ""
	event.ReadAt = nil
	event.CreatedAt = s.now()
	if err := s.repo.Create(ctx, &event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish notification")
	}
	s.metrics.RecordNotification(event.Kind, event.RecipientRole)
	s.forgetUnreadCount(ctx, event.RecipientRole, event.RecipientID)
	s.logger.Debug("notification published",
		zap.String("notification_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("recipient_role", string(event.RecipientRole)),
		zap.String("recipient_id", event.RecipientID),
	)
	return &event, nil
}

// ListUnread returns the recipient's unread events, newest first.
func (s *NotificationService) ListUnread(ctx context.Context, role models.UserRole, recipientID string) ([]models.NotificationEvent, error) {
	return s.list(ctx, models.NotificationFilter{RecipientRole: role, RecipientID: recipientID, UnreadOnly: true})
}

// ListAll returns read and unread events, newest first. A non-positive limit
// returns the default page.
func (s *NotificationService) ListAll(ctx context.Context, role models.UserRole, recipientID string, limit int) ([]models.NotificationEvent, error) {
	if limit <= 0 {
		limit = defaultInboxPage
	}
	return s.list(ctx, models.NotificationFilter{RecipientRole: role, RecipientID: recipientID, Limit: limit})
}

// Get returns a single event.
func (s *NotificationService) Get(ctx context.Context, eventID string) (*models.NotificationEvent, error) {
	event, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	return event, nil
}

// MarkRead marks the event read. Repeated calls keep the first read time.
func (s *NotificationService) MarkRead(ctx context.Context, eventID string) error {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	return s.markRead(ctx, event)
}

// MarkReadAs marks the event read on behalf of its recipient.
func (s *NotificationService) MarkReadAs(ctx context.Context, eventID string, role models.UserRole, recipientID string) error {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if event.RecipientRole != role || event.RecipientID != recipientID {
		return appErrors.Clone(appErrors.ErrForbidden, "notification belongs to another recipient")
	}
	return s.markRead(ctx, event)
}

// MarkAllRead marks every unread event of the recipient and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, role models.UserRole, recipientID string) (int64, error) {
	if err := validateRecipient(role, recipientID); err != nil {
		return 0, err
	}
	updated, err := s.repo.MarkAllRead(ctx, role, recipientID, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.forgetUnreadCount(ctx, role, recipientID)
	return updated, nil
}

// CountUnread returns the recipient's unread badge count.
func (s *NotificationService) CountUnread(ctx context.Context, role models.UserRole, recipientID string) (int, error) {
	if err := validateRecipient(role, recipientID); err != nil {
		return 0, err
	}
	key := unreadCountCacheKey(role, recipientID)
	var cached int
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}
	count, err := s.repo.CountUnread(ctx, role, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	_ = s.cache.Set(ctx, key, count, 0)
	return count, nil
}

func (s *NotificationService) list(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationEvent, error) {
	if err := validateRecipient(filter.RecipientRole, filter.RecipientID); err != nil {
		return nil, err
	}
	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return events, nil
}

func (s *NotificationService) markRead(ctx context.Context, event *models.NotificationEvent) error {
	if event.Read() {
		return nil
	}
	if err := s.repo.MarkRead(ctx, event.ID, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	s.forgetUnreadCount(ctx, event.RecipientRole, event.RecipientID)
	return nil
}

func (s *NotificationService) forgetUnreadCount(ctx context.Context, role models.UserRole, recipientID string) {
	_ = s.cache.Delete(ctx, unreadCountCacheKey(role, recipientID))
}

func validateRecipient(role models.UserRole, recipientID string) error {
	if !role.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "invalid recipient role")
	}
	if strings.TrimSpace(recipientID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "recipient id is required")
	}
	return nil
}
