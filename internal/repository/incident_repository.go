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

const incidentColumns = `id, student_id, teacher_id, occurred_at, location, category, severity, description, notes,
       strategies, outcome, case_id, created_at, updated_at`

// IncidentRepository persists behaviour incidents.
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository constructs the repository.
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a new incident.
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now
	if incident.Strategies == nil {
		incident.Strategies = models.Strategies{}
	}
	const query = `INSERT INTO incidents
	(id, student_id, teacher_id, occurred_at, location, category, severity, description, notes, strategies, outcome, case_id, created_at, updated_at)
	VALUES (:id, :student_id, :teacher_id, :occurred_at, :location, :category, :severity, :description, :notes, :strategies, :outcome, :case_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, incident); err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetByID fetches an incident by identifier.
func (r *IncidentRepository) GetByID(ctx context.Context, id string) (*models.Incident, error) {
	query := fmt.Sprintf("SELECT %s FROM incidents WHERE id = $1", incidentColumns)
	var incident models.Incident
	if err := r.db.GetContext(ctx, &incident, query, id); err != nil {
		return nil, err
	}
	return &incident, nil
}

// ListByStudent returns the student's incidents, newest first.
func (r *IncidentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Incident, error) {
	query := fmt.Sprintf("SELECT %s FROM incidents WHERE student_id = $1 ORDER BY occurred_at DESC, created_at DESC", incidentColumns)
	var incidents []models.Incident
	if err := r.db.SelectContext(ctx, &incidents, query, studentID); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

// MarkEscalated links the case once. It returns sql.ErrNoRows when the
// incident is missing or already linked to a case.
func (r *IncidentRepository) MarkEscalated(ctx context.Context, incidentID, caseID string, at time.Time) error {
	const query = `UPDATE incidents SET case_id = $2, outcome = $3, updated_at = $4
	WHERE id = $1 AND case_id IS NULL`
	result, err := r.db.ExecContext(ctx, query, incidentID, caseID, models.OutcomeEscalated, at)
	if err != nil {
		return fmt.Errorf("mark incident escalated: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident escalation rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UnlinkCase reverses MarkEscalated for caseID, restoring the prior outcome.
// It returns sql.ErrNoRows when the incident is not linked to that case.
func (r *IncidentRepository) UnlinkCase(ctx context.Context, incidentID, caseID string, outcome models.IncidentOutcome, at time.Time) error {
	const query = `UPDATE incidents SET case_id = NULL, outcome = $3, updated_at = $4
	WHERE id = $1 AND case_id = $2`
	result, err := r.db.ExecContext(ctx, query, incidentID, caseID, outcome, at)
	if err != nil {
		return fmt.Errorf("unlink incident case: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check incident unlink rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an incident row.
func (r *IncidentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM incidents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
