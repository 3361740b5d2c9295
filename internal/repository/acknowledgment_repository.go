package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

const acknowledgmentColumns = `target_type, target_id, parent_id, acknowledged, acknowledged_at, feedback_text, feedback_sent_at, created_at`

// AcknowledgmentRepository persists parent acknowledgments and feedback.
type AcknowledgmentRepository struct {
	db *sqlx.DB
}

// NewAcknowledgmentRepository constructs the repository.
func NewAcknowledgmentRepository(db *sqlx.DB) *AcknowledgmentRepository {
	return &AcknowledgmentRepository{db: db}
}

// Get fetches the record for the key or returns sql.ErrNoRows.
func (r *AcknowledgmentRepository) Get(ctx context.Context, key models.AcknowledgmentKey) (*models.Acknowledgment, error) {
	query := fmt.Sprintf("SELECT %s FROM acknowledgments WHERE target_type = $1 AND target_id = $2 AND parent_id = $3", acknowledgmentColumns)
	var ack models.Acknowledgment
	if err := r.db.GetContext(ctx, &ack, query, key.TargetType, key.TargetID, key.ParentID); err != nil {
		return nil, err
	}
	return &ack, nil
}

// EnsureDefault inserts an unacknowledged record when missing and returns the stored row.
func (r *AcknowledgmentRepository) EnsureDefault(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error) {
	if err := r.insertDefault(ctx, key, at); err != nil {
		return nil, err
	}
	return r.Get(ctx, key)
}

// MarkAcknowledged flips the flag once, keeping the original acknowledged_at.
func (r *AcknowledgmentRepository) MarkAcknowledged(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error) {
	query := fmt.Sprintf(`INSERT INTO acknowledgments (target_type, target_id, parent_id, acknowledged, acknowledged_at, created_at)
	VALUES ($1, $2, $3, TRUE, $4, $4)
	ON CONFLICT (target_type, target_id, parent_id) DO UPDATE
	SET acknowledged = TRUE, acknowledged_at = COALESCE(acknowledgments.acknowledged_at, EXCLUDED.acknowledged_at)
	RETURNING %s`, acknowledgmentColumns)
	var ack models.Acknowledgment
	if err := r.db.GetContext(ctx, &ack, query, key.TargetType, key.TargetID, key.ParentID, at); err != nil {
		return nil, fmt.Errorf("mark acknowledged: %w", err)
	}
	return &ack, nil
}

// SaveFeedback overwrites the single feedback slot for the key.
func (r *AcknowledgmentRepository) SaveFeedback(ctx context.Context, key models.AcknowledgmentKey, text string, at time.Time) (*models.Acknowledgment, error) {
	query := fmt.Sprintf(`INSERT INTO acknowledgments (target_type, target_id, parent_id, acknowledged, feedback_text, feedback_sent_at, created_at)
	VALUES ($1, $2, $3, FALSE, $4, $5, $5)
	ON CONFLICT (target_type, target_id, parent_id) DO UPDATE
	SET feedback_text = EXCLUDED.feedback_text, feedback_sent_at = EXCLUDED.feedback_sent_at
	RETURNING %s`, acknowledgmentColumns)
	var ack models.Acknowledgment
	if err := r.db.GetContext(ctx, &ack, query, key.TargetType, key.TargetID, key.ParentID, text, at); err != nil {
		return nil, fmt.Errorf("save feedback: %w", err)
	}
	return &ack, nil
}

// ListForTarget returns every parent's record for the target.
func (r *AcknowledgmentRepository) ListForTarget(ctx context.Context, targetType models.TargetType, targetID string) ([]models.Acknowledgment, error) {
	query := fmt.Sprintf("SELECT %s FROM acknowledgments WHERE target_type = $1 AND target_id = $2 ORDER BY parent_id", acknowledgmentColumns)
	var acks []models.Acknowledgment
	if err := r.db.SelectContext(ctx, &acks, query, targetType, targetID); err != nil {
		return nil, fmt.Errorf("list acknowledgments: %w", err)
	}
	return acks, nil
}

func (r *AcknowledgmentRepository) insertDefault(ctx context.Context, key models.AcknowledgmentKey, at time.Time) error {
	const query = `INSERT INTO acknowledgments (target_type, target_id, parent_id, acknowledged, created_at)
	VALUES ($1, $2, $3, FALSE, $4)
	ON CONFLICT (target_type, target_id, parent_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, key.TargetType, key.TargetID, key.ParentID, at); err != nil {
		return fmt.Errorf("insert default acknowledgment: %w", err)
	}
	return nil
}
