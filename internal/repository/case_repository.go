package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

const caseColumns = `id, incident_id, incident_ids, student_id, teacher_id, expert_id, status, severity, escalation_note,
       assessment, recommended_triggers, recommended_strategies, assessed_at, monitoring, follow_up_at, reminder_sent_at,
       closing_notes, closed_at, parent_acknowledged, created_at, updated_at`

const uniqueViolation = "23505"

// ErrDuplicateCase is returned by Create when the incident already has a case.
var ErrDuplicateCase = errors.New("case already exists for incident")

// CaseRepository persists escalated cases.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs the repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case row.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.IncidentIDs == nil {
		c.IncidentIDs = pq.StringArray{c.IncidentID}
	}
	if c.RecommendedTriggers == nil {
		c.RecommendedTriggers = pq.StringArray{}
	}
	if c.RecommendedStrategies == nil {
		c.RecommendedStrategies = pq.StringArray{}
	}
	const query = `INSERT INTO cases
	(id, incident_id, incident_ids, student_id, teacher_id, expert_id, status, severity, escalation_note, assessment,
	 recommended_triggers, recommended_strategies, assessed_at, monitoring, follow_up_at, reminder_sent_at,
	 closing_notes, closed_at, parent_acknowledged, created_at, updated_at)
	VALUES (:id, :incident_id, :incident_ids, :student_id, :teacher_id, :expert_id, :status, :severity, :escalation_note, :assessment,
	 :recommended_triggers, :recommended_strategies, :assessed_at, :monitoring, :follow_up_at, :reminder_sent_at,
	 :closing_notes, :closed_at, :parent_acknowledged, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "uq_cases_incident" {
			return ErrDuplicateCase
		}
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}

// GetByID fetches a case by identifier.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*models.Case, error) {
	query := fmt.Sprintf("SELECT %s FROM cases WHERE id = $1", caseColumns)
	var c models.Case
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns cases matching the filter (latest first).
func (r *CaseRepository) List(ctx context.Context, filter models.CaseFilter) ([]models.Case, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM cases", caseColumns))

	conditions := make([]string, 0, 3)
	if filter.ExpertID != "" {
		args = append(args, filter.ExpertID)
		conditions = append(conditions, fmt.Sprintf("expert_id = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		values := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			values[i] = string(status)
		}
		args = append(args, pq.Array(values))
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return cases, nil
}

// UpdateStatus persists a transition guarded by the expected current status.
// It returns sql.ErrNoRows when another writer moved the case first.
func (r *CaseRepository) UpdateStatus(ctx context.Context, update models.CaseStatusUpdate) error {
	setParts := []string{"status = :to_status", "updated_at = :updated_at"}
	params := map[string]interface{}{
		"id":          update.ID,
		"from_status": update.From,
		"to_status":   update.To,
		"updated_at":  update.UpdatedAt,
	}
	if update.Monitoring != nil {
		setParts = append(setParts, "monitoring = :monitoring")
		params["monitoring"] = *update.Monitoring
	}
	if update.FollowUpAt != nil {
		setParts = append(setParts, "follow_up_at = :follow_up_at", "reminder_sent_at = NULL")
		params["follow_up_at"] = *update.FollowUpAt
	}
	if update.ClearFollowUp {
		setParts = append(setParts, "follow_up_at = NULL", "monitoring = jsonb_set(COALESCE(monitoring, CAST('{}' AS jsonb)), '{active}', 'false')")
	}
	if update.ClosingNotes != nil {
		setParts = append(setParts, "closing_notes = :closing_notes")
		params["closing_notes"] = *update.ClosingNotes
	}
	if update.ClosedAt != nil {
		setParts = append(setParts, "closed_at = :closed_at")
		params["closed_at"] = *update.ClosedAt
	}
	if update.AddIncidentID != "" {
		setParts = append(setParts, "incident_ids = CASE WHEN :add_incident_id = ANY(incident_ids) THEN incident_ids ELSE array_append(incident_ids, :add_incident_id) END")
		params["add_incident_id"] = update.AddIncidentID
	}
	query := fmt.Sprintf("UPDATE cases SET %s WHERE id = :id AND status = :from_status", strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check case update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateAssessment stores the expert assessment while the case is open.
func (r *CaseRepository) UpdateAssessment(ctx context.Context, update models.CaseAssessmentUpdate) error {
	setParts := []string{
		"assessment = :assessment",
		"recommended_triggers = :recommended_triggers",
		"recommended_strategies = :recommended_strategies",
		"assessed_at = :assessed_at",
		"updated_at = :assessed_at",
	}
	params := map[string]interface{}{
		"id":                     update.ID,
		"assessment":             update.Notes,
		"recommended_triggers":   pq.StringArray(update.RecommendedTriggers),
		"recommended_strategies": pq.StringArray(update.RecommendedStrategies),
		"assessed_at":            update.AssessedAt,
		"under_review":           models.CaseStatusUnderReview,
		"monitoring_status":      models.CaseStatusMonitoring,
	}
	if update.Severity != nil {
		setParts = append(setParts, "severity = :severity")
		params["severity"] = *update.Severity
	}
	query := fmt.Sprintf("UPDATE cases SET %s WHERE id = :id AND status IN (:under_review, :monitoring_status)", strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return fmt.Errorf("update case assessment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check case assessment rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDueFollowUps returns monitored cases whose reminder is due and unsent.
func (r *CaseRepository) ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.Case, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM cases
	WHERE status = $1 AND follow_up_at IS NOT NULL AND follow_up_at <= $2 AND reminder_sent_at IS NULL
	ORDER BY follow_up_at ASC LIMIT %d`, caseColumns, limit)
	var cases []models.Case
	if err := r.db.SelectContext(ctx, &cases, query, models.CaseStatusMonitoring, now); err != nil {
		return nil, fmt.Errorf("list due follow ups: %w", err)
	}
	return cases, nil
}

// MarkReminderSent records reminder delivery for the given follow-up window.
func (r *CaseRepository) MarkReminderSent(ctx context.Context, id string, followUpAt, at time.Time) error {
	const query = `UPDATE cases SET reminder_sent_at = $3
	WHERE id = $1 AND status = $4 AND follow_up_at = $2 AND reminder_sent_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, followUpAt, at, models.CaseStatusMonitoring)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check reminder rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetParentAcknowledged raises the parent-visible acknowledgment flag.
func (r *CaseRepository) SetParentAcknowledged(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE cases SET parent_acknowledged = TRUE WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("set parent acknowledged: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a case row.
func (r *CaseRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM cases WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}
