package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/repository"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

type caseStore interface {
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

type escalationIncidents interface {
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	MarkEscalated(ctx context.Context, incidentID, caseID string) error
	UnlinkCase(ctx context.Context, incidentID, caseID string, outcome models.IncidentOutcome) error
}

type acknowledgmentStatuses interface {
	StatusesForTarget(ctx context.Context, targetType models.TargetType, targetID string, parentIDs []string) ([]models.Acknowledgment, error)
}

// EscalateIncidentRequest opens a case for an incident.
type EscalateIncidentRequest struct {
	IncidentID string `json:"-" validate:"required"`
	ExpertID   string `json:"expert_id" validate:"required"`
	Note       string `json:"note" validate:"max=2000"`
}

// ApplyAssessmentRequest records the expert's assessment. ActorID is the
// calling expert; empty means an administrative caller.
type ApplyAssessmentRequest struct {
	CaseID                string   `json:"-" validate:"required"`
	ActorID               string   `json:"-"`
	Notes                 string   `json:"notes" validate:"required,max=8000"`
	RecommendedTriggers   []string `json:"recommended_triggers" validate:"omitempty,dive,required,max=200"`
	RecommendedStrategies []string `json:"recommended_strategies" validate:"omitempty,dive,required,max=200"`
	Severity              *string  `json:"severity" validate:"omitempty,severity"`
}

// SetMonitoringRequest moves a case into monitoring.
type SetMonitoringRequest struct {
	CaseID       string `json:"-" validate:"required"`
	ActorID      string `json:"-"`
	DurationDays int    `json:"duration_days" validate:"required,min=1,max=365"`
	Notes        string `json:"notes" validate:"max=2000"`
}

// RecordNewIncidentRequest links a related incident to a monitored case.
type RecordNewIncidentRequest struct {
	CaseID     string `json:"-" validate:"required"`
	ActorID    string `json:"-"`
	IncidentID string `json:"incident_id" validate:"required"`
}

// CloseCaseRequest closes a case.
type CloseCaseRequest struct {
	CaseID       string `json:"-" validate:"required"`
	ActorID      string `json:"-"`
	ClosingNotes string `json:"closing_notes" validate:"required,max=4000"`
}

// CaseListRequest filters case listings.
type CaseListRequest struct {
	ExpertID  string
	StudentID string
	Status    []string
	Limit     int
	Offset    int
}

// CaseOverview bundles a case with its incidents and per-parent acknowledgment state.
type CaseOverview struct {
	Case            *models.Case            `json:"case"`
	Student         *models.Student         `json:"student"`
	Incidents       []models.Incident       `json:"incidents"`
	Acknowledgments []models.Acknowledgment `json:"acknowledgments"`
}

// EscalationService owns the case lifecycle. Mutations on one case are
// serialised in-process and compare-and-set in storage.
type EscalationService struct {
	cases     caseStore
	incidents escalationIncidents
	acks      acknowledgmentStatuses
	students  StudentDirectory
	staff     StaffDirectory
	notifier  notificationPublisher
	locks     *keyedLocker
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEscalationService constructs the service.
func NewEscalationService(cases caseStore, incidents escalationIncidents, acks acknowledgmentStatuses, students StudentDirectory, staff StaffDirectory, notifier notificationPublisher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EscalationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &EscalationService{
		cases:     cases,
		incidents: incidents,
		acks:      acks,
		students:  students,
		staff:     staff,
		notifier:  notifier,
		locks:     newKeyedLocker(),
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.validator.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return models.IncidentSeverity(strings.ToLower(fl.Field().String())).Valid()
	})
	return svc
}

// EscalateIncident opens an UnderReview case for the incident and assigns the expert.
func (s *EscalationService) EscalateIncident(ctx context.Context, req EscalateIncidentRequest) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid escalation payload")
	}

	unlock := s.locks.Lock(incidentLockKey(req.IncidentID))
	defer unlock()

	incident, err := s.incidents.GetIncident(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if incident.Escalated() {
		return nil, appErrors.ErrAlreadyEscalated
	}
	expert, err := lookupExpert(ctx, s.staff, req.ExpertID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &models.Case{
		IncidentID:  incident.ID,
		IncidentIDs: []string{incident.ID},
		StudentID:   incident.StudentID,
		TeacherID:   incident.TeacherID,
		ExpertID:    expert.ID,
		Status:      models.CaseStatusPendingAssignment,
		Severity:    incident.Severity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		c.EscalationNote = &note
	}
	// The expert is chosen up front, so assignment resolves before the case is stored.
	if !c.Status.CanTransitionTo(models.CaseStatusUnderReview) {
		return nil, appErrors.ErrInvalidTransition
	}
	c.Status = models.CaseStatusUnderReview

	if err := s.cases.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicateCase) {
			return nil, appErrors.ErrAlreadyEscalated
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create case")
	}
	if err := s.incidents.MarkEscalated(ctx, incident.ID, c.ID); err != nil {
		if delErr := s.cases.Delete(ctx, c.ID); delErr != nil {
			s.logger.Error("failed to remove unlinked case", zap.String("case_id", c.ID), zap.Error(delErr))
		}
		return nil, err
	}
	s.metrics.RecordCaseTransition("", models.CaseStatusUnderReview)
	s.logger.Info("incident escalated",
		zap.String("case_id", c.ID),
		zap.String("incident_id", incident.ID),
		zap.String("expert_id", expert.ID),
		zap.String("to", string(c.Status)),
	)

	s.publish(ctx, models.RoleExpert, c.ExpertID, models.NotificationCaseAssigned, c.ID,
		fmt.Sprintf("New %s severity case assigned for student %s", c.Severity, c.StudentID))
	s.publish(ctx, models.RoleTeacher, c.TeacherID, models.NotificationIncidentEscalated, c.ID,
		fmt.Sprintf("Incident %s was escalated to a behavioral expert", incident.ID))
	return c, nil
}

// ApplyAssessment stores the expert assessment without changing status.
func (s *EscalationService) ApplyAssessment(ctx context.Context, req ApplyAssessmentRequest) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assessment payload")
	}

	unlock := s.locks.Lock(caseLockKey(req.CaseID))
	defer unlock()

	c, err := s.loadForActor(ctx, req.CaseID, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !c.Status.Open() {
		return nil, appErrors.ErrInvalidTransition
	}

	update := models.CaseAssessmentUpdate{
		ID:                    c.ID,
		Notes:                 strings.TrimSpace(req.Notes),
		RecommendedTriggers:   trimAll(req.RecommendedTriggers),
		RecommendedStrategies: trimAll(req.RecommendedStrategies),
		AssessedAt:            s.now(),
	}
	if req.Severity != nil {
		severity := models.IncidentSeverity(strings.ToLower(*req.Severity))
		update.Severity = &severity
	}
	if err := s.cases.UpdateAssessment(ctx, update); err != nil {
		return nil, s.translateCaseWriteError(ctx, c.ID, err, "failed to apply assessment")
	}

	updated, err := s.GetCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("case assessment applied", zap.String("case_id", c.ID), zap.String("status", string(updated.Status)))

	s.publish(ctx, models.RoleTeacher, updated.TeacherID, models.NotificationAssessmentApplied, updated.ID, "The behavioral expert shared an assessment")
	s.publishToParents(ctx, updated.StudentID, models.NotificationAssessmentApplied, updated.ID, "A behavioral assessment is available for your child")
	return updated, nil
}

// SetMonitoring moves an UnderReview case into Monitoring and schedules its follow-up reminder.
func (s *EscalationService) SetMonitoring(ctx context.Context, req SetMonitoringRequest) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid monitoring payload")
	}

	unlock := s.locks.Lock(caseLockKey(req.CaseID))
	defer unlock()

	c, err := s.loadForActor(ctx, req.CaseID, req.ActorID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	followUp := now.AddDate(0, 0, req.DurationDays)
	update := models.CaseStatusUpdate{
		ID: c.ID,
		To: models.CaseStatusMonitoring,
		Monitoring: &models.CaseMonitoring{
			Active:       true,
			DurationDays: req.DurationDays,
			Notes:        strings.TrimSpace(req.Notes),
			StartedAt:    now,
		},
		FollowUpAt: &followUp,
		UpdatedAt:  now,
	}
	updated, err := s.transition(ctx, c, update)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.RoleTeacher, updated.TeacherID, models.NotificationCaseMonitoring, updated.ID,
		fmt.Sprintf("Case moved to monitoring for %d days", req.DurationDays))
	return updated, nil
}

// RecordNewIncident links a related incident to a monitored case and reopens it for review.
func (s *EscalationService) RecordNewIncident(ctx context.Context, req RecordNewIncidentRequest) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid related incident payload")
	}

	unlockCase := s.locks.Lock(caseLockKey(req.CaseID))
	defer unlockCase()
	unlockIncident := s.locks.Lock(incidentLockKey(req.IncidentID))
	defer unlockIncident()

	c, err := s.loadForActor(ctx, req.CaseID, req.ActorID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransitionTo(models.CaseStatusUnderReview) {
		return nil, appErrors.ErrInvalidTransition
	}
	incident, err := s.incidents.GetIncident(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if incident.StudentID != c.StudentID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "incident belongs to a different student")
	}
	if incident.Escalated() || c.HasIncident(incident.ID) {
		return nil, appErrors.ErrAlreadyEscalated
	}

	// Link first: the incident CAS decides ownership, the case reopen follows.
	if err := s.incidents.MarkEscalated(ctx, incident.ID, c.ID); err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, c, models.CaseStatusUpdate{
		ID:            c.ID,
		To:            models.CaseStatusUnderReview,
		ClearFollowUp: true,
		AddIncidentID: incident.ID,
		UpdatedAt:     s.now(),
	})
	if err != nil {
		if unlinkErr := s.incidents.UnlinkCase(ctx, incident.ID, c.ID, incident.Outcome); unlinkErr != nil {
			s.logger.Error("failed to unlink incident after reopen failure",
				zap.String("case_id", c.ID),
				zap.String("incident_id", incident.ID),
				zap.Error(unlinkErr),
			)
		}
		return nil, err
	}

	s.publish(ctx, models.RoleExpert, updated.ExpertID, models.NotificationCaseReopened, updated.ID,
		fmt.Sprintf("A new related incident reopened case %s", updated.ID))
	s.publish(ctx, models.RoleTeacher, updated.TeacherID, models.NotificationCaseReopened, updated.ID,
		"The monitored case is back under review")
	return updated, nil
}

// CloseCase closes an UnderReview or Monitoring case.
func (s *EscalationService) CloseCase(ctx context.Context, req CloseCaseRequest) (*models.Case, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid close payload")
	}

	unlock := s.locks.Lock(caseLockKey(req.CaseID))
	defer unlock()

	c, err := s.loadForActor(ctx, req.CaseID, req.ActorID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	notes := strings.TrimSpace(req.ClosingNotes)
	updated, err := s.transition(ctx, c, models.CaseStatusUpdate{
		ID:            c.ID,
		To:            models.CaseStatusClosed,
		ClearFollowUp: c.Status == models.CaseStatusMonitoring,
		ClosingNotes:  &notes,
		ClosedAt:      &now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.RoleTeacher, updated.TeacherID, models.NotificationCaseClosed, updated.ID, "The behavioral case has been closed")
	s.publishToParents(ctx, updated.StudentID, models.NotificationCaseClosed, updated.ID, "Your child's behavioral case has been closed")
	return updated, nil
}

// GetCase returns a case by id.
func (s *EscalationService) GetCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCaseNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	return c, nil
}

// AuthorizeViewer loads the case and checks the caller is one of its participants.
func (s *EscalationService) AuthorizeViewer(ctx context.Context, caseID string, role models.UserRole, userID string) (*models.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	switch role {
	case models.RoleAdmin, models.RoleSuperAdmin:
		return c, nil
	case models.RoleExpert:
		if c.ExpertID == userID {
			return c, nil
		}
	case models.RoleTeacher:
		if c.TeacherID == userID {
			return c, nil
		}
	case models.RoleParent:
		student, err := lookupStudent(ctx, s.students, c.StudentID)
		if err != nil {
			return nil, err
		}
		if student.HasParent(userID) {
			return c, nil
		}
		return nil, appErrors.ErrUnauthorizedParent
	}
	return nil, appErrors.ErrForbidden
}

// ListCases returns cases matching the filter, newest first.
func (s *EscalationService) ListCases(ctx context.Context, req CaseListRequest) ([]models.Case, error) {
	filter := models.CaseFilter{
		ExpertID:  req.ExpertID,
		StudentID: req.StudentID,
		Limit:     req.Limit,
		Offset:    req.Offset,
	}
	for _, raw := range req.Status {
		status := models.CaseStatus(strings.ToUpper(strings.TrimSpace(raw)))
		switch status {
		case models.CaseStatusUnderReview, models.CaseStatusMonitoring, models.CaseStatusClosed:
			filter.Status = append(filter.Status, status)
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown case status %q", raw))
		}
	}
	cases, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}
	if cases == nil {
		cases = []models.Case{}
	}
	return cases, nil
}

// CaseOverview returns the case with its incidents and every linked parent's acknowledgment state.
func (s *EscalationService) CaseOverview(ctx context.Context, caseID string) (*CaseOverview, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	student, err := lookupStudent(ctx, s.students, c.StudentID)
	if err != nil {
		return nil, err
	}
	incidents := make([]models.Incident, 0, len(c.IncidentIDs))
	for _, id := range c.IncidentIDs {
		incident, err := s.incidents.GetIncident(ctx, id)
		if err != nil {
			if errors.Is(err, appErrors.ErrIncidentNotFound) {
				continue
			}
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	parentIDs, err := parentIDsOf(ctx, s.students, c.StudentID)
	if err != nil {
		return nil, err
	}
	acks, err := s.acks.StatusesForTarget(ctx, models.TargetCase, c.ID, parentIDs)
	if err != nil {
		return nil, err
	}
	return &CaseOverview{Case: c, Student: student, Incidents: incidents, Acknowledgments: acks}, nil
}

// SendFollowUpReminder notifies the expert that a monitoring window elapsed.
// It re-checks the case under its lock and reports whether a reminder went out.
func (s *EscalationService) SendFollowUpReminder(ctx context.Context, caseID string, followUpAt time.Time) (bool, error) {
	unlock := s.locks.Lock(caseLockKey(caseID))
	defer unlock()

	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, appErrors.ErrCaseNotFound) {
			return false, nil
		}
		return false, err
	}
	if c.Status != models.CaseStatusMonitoring || c.FollowUpAt == nil || c.ReminderSentAt != nil || !c.FollowUpAt.Equal(followUpAt) {
		return false, nil
	}

	// Claim the reminder before publishing so a retried job never sends it twice.
	if err := s.cases.MarkReminderSent(ctx, c.ID, followUpAt, s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record reminder")
	}
	s.publish(ctx, models.RoleExpert, c.ExpertID, models.NotificationMonitoringReminder, c.ID,
		"Monitoring period ended; review the case")
	s.logger.Info("monitoring reminder sent", zap.String("case_id", c.ID), zap.String("expert_id", c.ExpertID))
	return true, nil
}

func (s *EscalationService) loadForActor(ctx context.Context, caseID, actorID string) (*models.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if actorID != "" && actorID != c.ExpertID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned expert can change this case")
	}
	return c, nil
}

// transition applies update from current's status; a lost race surfaces as ErrInvalidTransition.
func (s *EscalationService) transition(ctx context.Context, current *models.Case, update models.CaseStatusUpdate) (*models.Case, error) {
	if !current.Status.CanTransitionTo(update.To) {
		return nil, appErrors.ErrInvalidTransition
	}
	update.From = current.Status
	if err := s.cases.UpdateStatus(ctx, update); err != nil {
		return nil, s.translateCaseWriteError(ctx, current.ID, err, "failed to update case status")
	}
	s.metrics.RecordCaseTransition(update.From, update.To)
	s.logger.Info("case status changed",
		zap.String("case_id", current.ID),
		zap.String("incident_id", current.IncidentID),
		zap.String("from", string(update.From)),
		zap.String("to", string(update.To)),
	)
	return s.GetCase(ctx, current.ID)
}

func (s *EscalationService) translateCaseWriteError(ctx context.Context, caseID string, err error, message string) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
	if _, getErr := s.GetCase(ctx, caseID); getErr != nil {
		return getErr
	}
	return appErrors.ErrInvalidTransition
}

func (s *EscalationService) publish(ctx context.Context, role models.UserRole, recipientID string, kind models.NotificationKind, caseID, message string) {
	if recipientID == "" {
		return
	}
	event := models.NotificationEvent{
		RecipientRole: role,
		RecipientID:   recipientID,
		Kind:          kind,
		SubjectType:   models.TargetCase,
		SubjectID:     caseID,
		Message:       message,
	}
	if _, err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("notification publish failed",
			zap.String("case_id", caseID),
			zap.String("kind", string(kind)),
			zap.String("recipient_id", recipientID),
			zap.Error(err),
		)
	}
}

func (s *EscalationService) publishToParents(ctx context.Context, studentID string, kind models.NotificationKind, caseID, message string) {
	parentIDs, err := parentIDsOf(ctx, s.students, studentID)
	if err != nil {
		s.logger.Warn("parent lookup failed", zap.String("case_id", caseID), zap.String("student_id", studentID), zap.Error(err))
		return
	}
	for _, parentID := range parentIDs {
		s.publish(ctx, models.RoleParent, parentID, kind, caseID, message)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
