package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

const notificationColumns = `id, recipient_role, recipient_id, kind, subject_type, subject_id, message, created_at, read_at`

// NotificationRepository stores per-recipient notification queues.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create appends an event to the recipient's queue.
func (r *NotificationRepository) Create(ctx context.Context, event *models.NotificationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_events
	(id, recipient_role, recipient_id, kind, subject_type, subject_id, message, created_at, read_at)
	VALUES (:id, :recipient_role, :recipient_id, :kind, :subject_type, :subject_id, :message, :created_at, :read_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetByID fetches a single event.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.NotificationEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM notification_events WHERE id = $1", notificationColumns)
	var event models.NotificationEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns the recipient's events newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM notification_events WHERE recipient_role = $1 AND recipient_id = $2", notificationColumns)
	if filter.UnreadOnly {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit := filter.PageSize(); limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var events []models.NotificationEvent
	if err := r.db.SelectContext(ctx, &events, query, filter.RecipientRole, filter.RecipientID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return events, nil
}

// MarkRead sets read_at once. Re-marking an already read event is a no-op;
// unknown events yield sql.ErrNoRows.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notification_events SET read_at = COALESCE(read_at, $2) WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check notification rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead marks every unread event for the recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, role models.UserRole, recipientID string, at time.Time) (int64, error) {
	const query = `UPDATE notification_events SET read_at = $3 WHERE recipient_role = $1 AND recipient_id = $2 AND read_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, role, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check notification rows: %w", err)
	}
	return rows, nil
}

// CountUnread counts the recipient's unread events.
func (r *NotificationRepository) CountUnread(ctx context.Context, role models.UserRole, recipientID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM notification_events WHERE recipient_role = $1 AND recipient_id = $2 AND read_at IS NULL`
	if err := r.db.GetContext(ctx, &count, query, role, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
