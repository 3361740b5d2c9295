package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/repository/memory"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

func TestEscalateIncidentOpensCaseUnderReview(t *testing.T) {
	w := newCasework(t)
	incident, c := w.escalatedCase(t)

	require.Equal(t, models.CaseStatusUnderReview, c.Status)
	require.Equal(t, "expert-1", c.ExpertID)
	require.Equal(t, models.SeverityHigh, c.Severity)
	require.NotNil(t, c.EscalationNote)

	stored, err := w.incidents.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeEscalated, stored.Outcome)
	require.NotNil(t, stored.CaseID)
	require.Equal(t, c.ID, *stored.CaseID)

	require.True(t, hasKind(w.unread(t, models.RoleExpert, "expert-1"), models.NotificationCaseAssigned, c.ID))
	require.True(t, hasKind(w.unread(t, models.RoleTeacher, "teacher-1"), models.NotificationIncidentEscalated, c.ID))
}

func TestEscalateIncidentTwiceFails(t *testing.T) {
	w := newCasework(t)
	incident, _ := w.escalatedCase(t)

	_, err := w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "expert-1"})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)

	cases, err := w.escalations.ListCases(context.Background(), CaseListRequest{StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
}

func TestEscalateIncidentConcurrentCallersOpenOneCase(t *testing.T) {
	w := newCasework(t)
	incident := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "expert-1"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)
	}
	require.Equal(t, 1, succeeded)
}

func TestEscalateIncidentRequiresActiveExpert(t *testing.T) {
	w := newCasework(t)
	incident := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))

	_, err := w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "expert-2"})
	require.ErrorIs(t, err, appErrors.ErrExpertNotFound)
	_, err = w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "teacher-1"})
	require.ErrorIs(t, err, appErrors.ErrExpertNotFound)
	_, err = w.escalations.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: "missing", ExpertID: "expert-1"})
	require.ErrorIs(t, err, appErrors.ErrIncidentNotFound)

	stored, err := w.incidents.GetIncident(context.Background(), incident.ID)
	require.NoError(t, err)
	require.False(t, stored.Escalated())
}

func TestCaseMonitoringThenClose(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()

	monitored, err := w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 30, Notes: "watch math periods"})
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusMonitoring, monitored.Status)
	require.NotNil(t, monitored.Monitoring)
	require.True(t, monitored.Monitoring.Active)
	require.Equal(t, 30, monitored.Monitoring.DurationDays)
	require.NotNil(t, monitored.FollowUpAt)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 30), *monitored.FollowUpAt, time.Minute)

	closed, err := w.escalations.CloseCase(ctx, CloseCaseRequest{CaseID: c.ID, ActorID: "expert-1", ClosingNotes: "resolved via short breaks"})
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusClosed, closed.Status)
	require.Equal(t, "resolved via short breaks", *closed.ClosingNotes)
	require.NotNil(t, closed.ClosedAt)
	require.Nil(t, closed.FollowUpAt)

	require.True(t, hasKind(w.unread(t, models.RoleTeacher, "teacher-1"), models.NotificationCaseClosed, c.ID))
	require.True(t, hasKind(w.unread(t, models.RoleParent, "parent-1"), models.NotificationCaseClosed, c.ID))
	require.True(t, hasKind(w.unread(t, models.RoleParent, "parent-2"), models.NotificationCaseClosed, c.ID))
	require.False(t, hasKind(w.unread(t, models.RoleParent, "parent-3"), models.NotificationCaseClosed, c.ID))
}

func TestClosedCaseIsTerminal(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()

	_, err := w.escalations.CloseCase(ctx, CloseCaseRequest{CaseID: c.ID, ActorID: "expert-1", ClosingNotes: "no further concerns"})
	require.NoError(t, err)

	_, err = w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 7})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = w.escalations.ApplyAssessment(ctx, ApplyAssessmentRequest{CaseID: c.ID, ActorID: "expert-1", Notes: "late"})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	_, err = w.escalations.CloseCase(ctx, CloseCaseRequest{CaseID: c.ID, ActorID: "expert-1", ClosingNotes: "again"})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	other := w.reportIncident(t, "low", "unresolved", time.Now().Add(-time.Minute))
	_, err = w.escalations.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestConcurrentCloseCaseOnlyOneWins(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = w.escalations.CloseCase(context.Background(), CloseCaseRequest{CaseID: c.ID, ActorID: "expert-1", ClosingNotes: "done"})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	}
	require.Equal(t, 1, succeeded)

	stored, err := w.escalations.GetCase(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusClosed, stored.Status)
}

func TestRecordNewIncidentReopensMonitoredCase(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()

	other := w.reportIncident(t, "medium", "unresolved", time.Now().Add(-time.Minute))
	_, err := w.escalations.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	_, err = w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 14})
	require.NoError(t, err)

	reopened, err := w.escalations.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusUnderReview, reopened.Status)
	require.True(t, reopened.HasIncident(other.ID))
	require.Nil(t, reopened.FollowUpAt)
	require.False(t, reopened.Monitoring.Active)

	linked, err := w.incidents.GetIncident(ctx, other.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, *linked.CaseID)
	require.True(t, hasKind(w.unread(t, models.RoleExpert, "expert-1"), models.NotificationCaseReopened, c.ID))

	_, err = w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 14})
	require.NoError(t, err)
	_, err = w.escalations.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)
}

func TestRecordNewIncidentRejectsOtherStudent(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()
	_, err := w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, DurationDays: 10})
	require.NoError(t, err)

	other, err := w.incidents.CreateIncident(ctx, CreateIncidentRequest{
		StudentID:  "student-2",
		TeacherID:  "teacher-2",
		OccurredAt: time.Now().Add(-time.Minute),
		Location:   "Library",
		Category:   "Defiance",
		Severity:   "low",
		Outcome:    "resolved",
	})
	require.NoError(t, err)

	_, err = w.escalations.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestApplyAssessmentKeepsStatusAndNotifies(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	severity := "medium"

	updated, err := w.escalations.ApplyAssessment(context.Background(), ApplyAssessmentRequest{
		CaseID:                c.ID,
		ActorID:               "expert-1",
		Notes:                 "Frustration during timed math tasks",
		RecommendedTriggers:   []string{"timed tasks", " "},
		RecommendedStrategies: []string{"scheduled breaks"},
		Severity:              &severity,
	})
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusUnderReview, updated.Status)
	require.Equal(t, models.SeverityMedium, updated.Severity)
	require.Equal(t, []string{"timed tasks"}, []string(updated.RecommendedTriggers))
	require.NotNil(t, updated.AssessedAt)

	require.True(t, hasKind(w.unread(t, models.RoleTeacher, "teacher-1"), models.NotificationAssessmentApplied, c.ID))
	require.True(t, hasKind(w.unread(t, models.RoleParent, "parent-1"), models.NotificationAssessmentApplied, c.ID))
}

func TestCaseMutationsRequireAssignedExpert(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)

	_, err := w.escalations.CloseCase(context.Background(), CloseCaseRequest{CaseID: c.ID, ActorID: "expert-2", ClosingNotes: "not mine"})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = w.escalations.SetMonitoring(context.Background(), SetMonitoringRequest{CaseID: "missing", ActorID: "expert-1", DurationDays: 3})
	require.ErrorIs(t, err, appErrors.ErrCaseNotFound)
	_, err = w.escalations.SetMonitoring(context.Background(), SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 0})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAuthorizeViewer(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()

	for _, viewer := range []struct {
		role models.UserRole
		id   string
	}{{models.RoleExpert, "expert-1"}, {models.RoleTeacher, "teacher-1"}, {models.RoleParent, "parent-2"}, {models.RoleAdmin, "admin-1"}} {
		_, err := w.escalations.AuthorizeViewer(ctx, c.ID, viewer.role, viewer.id)
		require.NoError(t, err, viewer.id)
	}

	_, err := w.escalations.AuthorizeViewer(ctx, c.ID, models.RoleParent, "parent-3")
	require.ErrorIs(t, err, appErrors.ErrUnauthorizedParent)
	_, err = w.escalations.AuthorizeViewer(ctx, c.ID, models.RoleTeacher, "teacher-2")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestListCasesFilters(t *testing.T) {
	w := newCasework(t)
	_, first := w.escalatedCase(t)
	_, second := w.escalatedCase(t)
	ctx := context.Background()
	_, err := w.escalations.CloseCase(ctx, CloseCaseRequest{CaseID: first.ID, ClosingNotes: "done"})
	require.NoError(t, err)

	open, err := w.escalations.ListCases(ctx, CaseListRequest{ExpertID: "expert-1", Status: []string{"under_review", "MONITORING"}})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, second.ID, open[0].ID)

	_, err = w.escalations.ListCases(ctx, CaseListRequest{Status: []string{"ARCHIVED"}})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCaseOverviewIncludesEveryParent(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()

	_, err := w.acks.Acknowledge(ctx, AcknowledgmentRequest{ParentID: "parent-1", TargetType: models.TargetCase, TargetID: c.ID})
	require.NoError(t, err)

	overview, err := w.escalations.CaseOverview(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, overview.Case.ID)
	require.True(t, overview.Case.ParentAcknowledged)
	require.Equal(t, "Alex Johnson", overview.Student.FullName)
	require.Len(t, overview.Incidents, 1)
	require.Len(t, overview.Acknowledgments, 2)
	require.Equal(t, "parent-1", overview.Acknowledgments[0].ParentID)
	require.True(t, overview.Acknowledgments[0].Acknowledged)
	require.Equal(t, "parent-2", overview.Acknowledgments[1].ParentID)
	require.False(t, overview.Acknowledgments[1].Acknowledged)

	_, err = w.ackRepo.Get(ctx, models.AcknowledgmentKey{TargetType: models.TargetCase, TargetID: c.ID, ParentID: "parent-2"})
	require.Error(t, err)
}

func TestEscalateIncidentAcrossInstancesOpensOneCase(t *testing.T) {
	w := newCasework(t)
	incident := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))
	// A second process shares the stores but not the in-process locks.
	peer := NewEscalationService(w.caseRepo, w.incidents, w.acks, w.directory, w.directory, w.notifications, w.metrics, nil, nil)

	services := []*EscalationService{w.escalations, peer, w.escalations, peer}
	errs := make([]error, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *EscalationService) {
			defer wg.Done()
			_, errs[i] = svc.EscalateIncident(context.Background(), EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "expert-1"})
		}(i, svc)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)
	}
	require.Equal(t, 1, succeeded)

	cases, err := w.escalations.ListCases(context.Background(), CaseListRequest{StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, cases, 1)
}

func TestEscalateIncidentWithExistingCaseRowIsAlreadyEscalated(t *testing.T) {
	w := newCasework(t)
	incident := w.reportIncident(t, "high", "unresolved", time.Now().Add(-time.Hour))
	ctx := context.Background()

	// Another instance stored its case but has not linked the incident yet.
	require.NoError(t, w.caseRepo.Create(ctx, &models.Case{
		IncidentID: incident.ID,
		StudentID:  incident.StudentID,
		TeacherID:  incident.TeacherID,
		ExpertID:   "expert-1",
		Status:     models.CaseStatusUnderReview,
	}))

	_, err := w.escalations.EscalateIncident(ctx, EscalateIncidentRequest{IncidentID: incident.ID, ExpertID: "expert-1"})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)
	require.Empty(t, w.unread(t, models.RoleExpert, "expert-1"))
}

type contestedIncidents struct {
	*IncidentService
}

func (contestedIncidents) MarkEscalated(context.Context, string, string) error {
	return appErrors.ErrAlreadyEscalated
}

func TestRecordNewIncidentLeavesCaseUntouchedWhenLinkFails(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()
	_, err := w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 14})
	require.NoError(t, err)
	other := w.reportIncident(t, "medium", "unresolved", time.Now())

	svc := NewEscalationService(w.caseRepo, contestedIncidents{w.incidents}, w.acks, w.directory, w.directory, w.notifications, w.metrics, nil, nil)
	_, err = svc.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEscalated)

	stored, err := w.escalations.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusMonitoring, stored.Status)
	require.Len(t, stored.IncidentIDs, 1)
	require.NotNil(t, stored.FollowUpAt)
}

type staleCaseStore struct {
	*memory.CaseStore
}

func (staleCaseStore) UpdateStatus(context.Context, models.CaseStatusUpdate) error {
	return sql.ErrNoRows
}

func TestRecordNewIncidentUnlinksIncidentWhenReopenLoses(t *testing.T) {
	w := newCasework(t)
	_, c := w.escalatedCase(t)
	ctx := context.Background()
	_, err := w.escalations.SetMonitoring(ctx, SetMonitoringRequest{CaseID: c.ID, ActorID: "expert-1", DurationDays: 14})
	require.NoError(t, err)
	other := w.reportIncident(t, "medium", "unresolved", time.Now())

	svc := NewEscalationService(staleCaseStore{w.caseRepo}, w.incidents, w.acks, w.directory, w.directory, w.notifications, w.metrics, nil, nil)
	_, err = svc.RecordNewIncident(ctx, RecordNewIncidentRequest{CaseID: c.ID, ActorID: "expert-1", IncidentID: other.ID})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	restored, err := w.incidents.GetIncident(ctx, other.ID)
	require.NoError(t, err)
	require.Nil(t, restored.CaseID)
	require.Equal(t, models.OutcomeUnresolved, restored.Outcome)

	stored, err := w.escalations.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseStatusMonitoring, stored.Status)
}
