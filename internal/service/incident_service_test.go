package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

type failingEscalator struct {
	err error
}

func (f failingEscalator) EscalateIncident(ctx context.Context, req EscalateIncidentRequest) (*models.Case, error) {
	return nil, f.err
}

// overtakenEscalator lets a competing caller escalate the incident first.
type overtakenEscalator struct {
	winner *EscalationService
}

func (o overtakenEscalator) EscalateIncident(ctx context.Context, req EscalateIncidentRequest) (*models.Case, error) {
	if _, err := o.winner.EscalateIncident(ctx, EscalateIncidentRequest{IncidentID: req.IncidentID, ExpertID: "expert-1", Note: "escalated from the incident list"}); err != nil {
		return nil, err
	}
	return nil, appErrors.ErrAlreadyEscalated
}

func validIncidentRequest() CreateIncidentRequest {
	return CreateIncidentRequest{
		StudentID:  "student-1",
		TeacherID:  "teacher-1",
		OccurredAt: time.Now().Add(-30 * time.Minute),
		Location:   "Playground",
		Category:   "Aggression",
		Severity:   "medium",
		Outcome:    "resolved",
	}
}

func TestIncidentServiceCreateIncident(t *testing.T) {
	w := newCasework(t)
	req := validIncidentRequest()
	req.Strategies = []StrategyInput{{Name: " Redirect ", Effectiveness: "effective"}}

	incident, err := w.incidents.CreateIncident(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, incident.ID)
	require.Equal(t, models.SeverityMedium, incident.Severity)
	require.Equal(t, models.OutcomeResolved, incident.Outcome)
	require.Equal(t, "Redirect", incident.Strategies[0].Name)
	require.Nil(t, incident.CaseID)

	stored, err := w.incidents.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, incident.ID, stored.ID)
}

func TestIncidentServiceCreateIncidentRejectsUnknownPeople(t *testing.T) {
	w := newCasework(t)

	req := validIncidentRequest()
	req.StudentID = "student-404"
	_, err := w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrStudentNotFound)

	req = validIncidentRequest()
	req.TeacherID = "expert-1"
	_, err = w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrTeacherNotFound)
}

func TestIncidentServiceCreateIncidentValidation(t *testing.T) {
	w := newCasework(t)

	req := validIncidentRequest()
	req.Severity = "critical"
	_, err := w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	req = validIncidentRequest()
	req.Outcome = "ignored"
	_, err = w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	req = validIncidentRequest()
	req.Outcome = "escalated"
	_, err = w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	req = validIncidentRequest()
	req.OccurredAt = time.Now().Add(24 * time.Hour)
	_, err = w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestIncidentServiceCreateEscalatedIncidentOpensCase(t *testing.T) {
	w := newCasework(t)
	req := validIncidentRequest()
	req.Outcome = "escalated"
	req.ExpertID = "expert-1"
	req.EscalationNote = "third incident this week"

	incident, err := w.incidents.CreateIncident(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeEscalated, incident.Outcome)
	require.NotNil(t, incident.CaseID)

	c, err := w.escalations.GetCase(context.Background(), *incident.CaseID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusUnderReview, c.Status)
	require.Equal(t, incident.ID, c.IncidentID)
	require.True(t, hasKind(w.unread(t, models.RoleExpert, "expert-1"), models.NotificationCaseAssigned, c.ID))
}

func TestIncidentServiceCreateEscalatedIncidentWithInactiveExpertStoresNothing(t *testing.T) {
	w := newCasework(t)
	req := validIncidentRequest()
	req.Outcome = "escalated"
	req.ExpertID = "expert-2"

	_, err := w.incidents.CreateIncident(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrExpertNotFound)

	list, err := w.incidents.ListIncidentsForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestIncidentServiceCreateEscalatedIncidentRollsBackOnEscalationFailure(t *testing.T) {
	w := newCasework(t)
	w.incidents.UseEscalator(failingEscalator{err: errors.New("boom")})
	req := validIncidentRequest()
	req.Outcome = "escalated"
	req.ExpertID = "expert-1"

	_, err := w.incidents.CreateIncident(context.Background(), req)
	require.EqualError(t, err, "boom")

	list, err := w.incidents.ListIncidentsForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestIncidentServiceCreateEscalatedIncidentKeepsIncidentLinkedByAnotherCaller(t *testing.T) {
	w := newCasework(t)
	w.incidents.UseEscalator(overtakenEscalator{winner: w.escalations})
	req := validIncidentRequest()
	req.Outcome = "escalated"
	req.ExpertID = "expert-1"

	incident, err := w.incidents.CreateIncident(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeEscalated, incident.Outcome)
	require.NotNil(t, incident.CaseID)

	c, err := w.escalations.GetCase(context.Background(), *incident.CaseID)
	require.NoError(t, err)
	require.Equal(t, incident.ID, c.IncidentID)

	list, err := w.incidents.ListIncidentsForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestIncidentServiceListNewestFirst(t *testing.T) {
	w := newCasework(t)
	older := w.reportIncident(t, "low", "resolved", time.Now().Add(-48*time.Hour))
	newer := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))

	list, err := w.incidents.ListIncidentsForStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)
	require.Equal(t, older.ID, list[1].ID)

	_, err = w.incidents.ListIncidentsForStudent(context.Background(), "student-404")
	require.ErrorIs(t, err, appErrors.ErrStudentNotFound)
}

func TestIncidentServiceMarkEscalatedOnce(t *testing.T) {
	w := newCasework(t)
	incident := w.reportIncident(t, "medium", "partially_resolved", time.Now().Add(-time.Hour))

	require.NoError(t, w.incidents.MarkEscalated(context.Background(), incident.ID, "case-1"))
	err := w.incidents.MarkEscalated(context.Background(), incident.ID, "case-2")
	require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)

	stored, err := w.incidents.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, "case-1", *stored.CaseID)
	require.Equal(t, models.OutcomeEscalated, stored.Outcome)

	err = w.incidents.MarkEscalated(context.Background(), "missing", "case-3")
	require.ErrorIs(t, err, appErrors.ErrIncidentNotFound)
}

func TestIncidentServiceGetIncidentNotFound(t *testing.T) {
	w := newCasework(t)
	_, err := w.incidents.GetIncident(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestIncidentServiceAuthorizeParent(t *testing.T) {
	w := newCasework(t)
	require.NoError(t, w.incidents.AuthorizeParent(context.Background(), "student-1", "parent-2"))
	require.ErrorIs(t, w.incidents.AuthorizeParent(context.Background(), "student-1", "parent-3"), appErrors.ErrUnauthorizedParent)
}
