package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/repository/memory"
)

type casework struct {
	directory     *memory.Directory
	incidentRepo  *memory.IncidentStore
	caseRepo      *memory.CaseStore
	ackRepo       *memory.AcknowledgmentStore
	inbox         *memory.NotificationStore
	metrics       *MetricsService
	notifications *NotificationService
	incidents     *IncidentService
	escalations   *EscalationService
	acks          *AcknowledgmentService
}

func newCasework(t *testing.T) *casework {
	t.Helper()
	directory := memory.NewDirectory()
	memory.SeedDemo(directory)

	w := &casework{
		directory:    directory,
		incidentRepo: memory.NewIncidentStore(),
		caseRepo:     memory.NewCaseStore(),
		ackRepo:      memory.NewAcknowledgmentStore(),
		inbox:        memory.NewNotificationStore(),
		metrics:      NewMetricsService(),
	}
	validate := validator.New()
	logger := zap.NewNop()
	w.notifications = NewNotificationService(w.inbox, nil, w.metrics, logger)
	w.incidents = NewIncidentService(w.incidentRepo, directory, directory, nil, w.metrics, validate, logger)
	w.acks = NewAcknowledgmentService(w.ackRepo, w.incidents, w.caseRepo, directory, w.notifications, logger)
	w.escalations = NewEscalationService(w.caseRepo, w.incidents, w.acks, directory, directory, w.notifications, w.metrics, validate, logger)
	w.incidents.UseEscalator(w.escalations)
	return w
}

func (w *casework) reportIncident(t *testing.T, severity, outcome string, occurredAt time.Time) *models.Incident {
	t.Helper()
	incident, err := w.incidents.CreateIncident(context.Background(), CreateIncidentRequest{
		StudentID:   "student-1",
		TeacherID:   "teacher-1",
		OccurredAt:  occurredAt,
		Location:    "Math classroom",
		Category:    "Disruption",
		Severity:    severity,
		Description: "Threw materials during group work",
		Strategies:  []StrategyInput{{Name: "Short break", Effectiveness: "somewhat"}},
		Outcome:     outcome,
	})
	require.NoError(t, err)
	return incident
}

// escalatedCase reproduces the opening of every case walkthrough: a high
// severity unresolved incident escalated to expert-1.
func (w *casework) escalatedCase(t *testing.T) (*models.Incident, *models.Case) {
	t.Helper()
	incident := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))
	c, err := w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{
		IncidentID: incident.ID,
		ExpertID:   "expert-1",
		Note:       "pattern of frustration",
	})
	require.NoError(t, err)
	return incident, c
}

func (w *casework) unread(t *testing.T, role models.UserRole, id string) []models.NotificationEvent {
	t.Helper()
	events, err := w.notifications.ListUnread(context.Background(), role, id)
	require.NoError(t, err)
	return events
}

func hasKind(events []models.NotificationEvent, kind models.NotificationKind, subjectID string) bool {
	for _, event := range events {
		if event.Kind == kind && event.SubjectID == subjectID {
			return true
		}
	}
	return false
}
