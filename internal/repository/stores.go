package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

// IncidentStore persists incidents. MarkEscalated returns sql.ErrNoRows when
// the incident is missing or already linked to a case.
type IncidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Incident, error)
	MarkEscalated(ctx context.Context, incidentID, caseID string, at time.Time) error
	UnlinkCase(ctx context.Context, incidentID, caseID string, outcome models.IncidentOutcome, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// CaseStore persists cases. Status writes are compare-and-set on the prior
// status; Create returns ErrDuplicateCase for an incident that already has a case.
type CaseStore interface {
	Create(ctx context.Context, c *models.Case) error
	GetByID(ctx context.Context, id string) (*models.Case, error)
	List(ctx context.Context, filter models.CaseFilter) ([]models.Case, error)
	UpdateStatus(ctx context.Context, update models.CaseStatusUpdate) error
	UpdateAssessment(ctx context.Context, update models.CaseAssessmentUpdate) error
	ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]models.Case, error)
	MarkReminderSent(ctx context.Context, id string, followUpAt, at time.Time) error
	SetParentAcknowledged(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// AcknowledgmentStore persists per-parent acknowledgment records.
type AcknowledgmentStore interface {
	Get(ctx context.Context, key models.AcknowledgmentKey) (*models.Acknowledgment, error)
	EnsureDefault(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error)
	MarkAcknowledged(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error)
	SaveFeedback(ctx context.Context, key models.AcknowledgmentKey, text string, at time.Time) (*models.Acknowledgment, error)
	ListForTarget(ctx context.Context, targetType models.TargetType, targetID string) ([]models.Acknowledgment, error)
}

// NotificationStore persists recipient inboxes.
type NotificationStore interface {
	Create(ctx context.Context, event *models.NotificationEvent) error
	GetByID(ctx context.Context, id string) (*models.NotificationEvent, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationEvent, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, role models.UserRole, recipientID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, role models.UserRole, recipientID string) (int, error)
}

// Directory resolves students, guardians, and staff.
type Directory interface {
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	ParentsOf(ctx context.Context, studentID string) ([]models.Parent, error)
	GetTeacher(ctx context.Context, id string) (*models.Teacher, error)
	GetExpert(ctx context.Context, id string) (*models.Expert, error)
}

// Stores bundles one backend's implementation of every casework contract.
type Stores struct {
	Incidents       IncidentStore
	Cases           CaseStore
	Acknowledgments AcknowledgmentStore
	Notifications   NotificationStore
	Directory       Directory
}

// NewPostgresStores wires the PostgreSQL repositories.
func NewPostgresStores(db *sqlx.DB) Stores {
	return Stores{
		Incidents:       NewIncidentRepository(db),
		Cases:           NewCaseRepository(db),
		Acknowledgments: NewAcknowledgmentRepository(db),
		Notifications:   NewNotificationRepository(db),
		Directory:       NewDirectoryRepository(db),
	}
}
