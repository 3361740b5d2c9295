package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

type incidentStore interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id string) (*models.Incident, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Incident, error)
	MarkEscalated(ctx context.Context, incidentID, caseID string, at time.Time) error
	UnlinkCase(ctx context.Context, incidentID, caseID string, outcome models.IncidentOutcome, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type incidentEscalator interface {
	EscalateIncident(ctx context.Context, req EscalateIncidentRequest) (*models.Case, error)
}

// StrategyInput captures one intervention the teacher tried.
type StrategyInput struct {
	Name          string `json:"name" validate:"required,max=120"`
	Effectiveness string `json:"effectiveness" validate:"max=60"`
}

// CreateIncidentRequest describes a teacher's incident report. Outcome
// "escalated" requires ExpertID and opens a case in the same call.
type CreateIncidentRequest struct {
	StudentID      string          `json:"student_id" validate:"required"`
	TeacherID      string          `json:"-" validate:"required"`
	OccurredAt     time.Time       `json:"occurred_at" validate:"required"`
	Location       string          `json:"location" validate:"required,max=120"`
	Category       string          `json:"category" validate:"required,max=80"`
	Severity       string          `json:"severity" validate:"required,severity"`
	Description    string          `json:"description" validate:"max=4000"`
	Notes          *string         `json:"notes"`
	Strategies     []StrategyInput `json:"strategies" validate:"omitempty,dive"`
	Outcome        string          `json:"outcome" validate:"required,outcome"`
	ExpertID       string          `json:"expert_id"`
	EscalationNote string          `json:"escalation_note" validate:"max=2000"`
}

// IncidentService records incidents and guards their single escalation.
type IncidentService struct {
	repo      incidentStore
	students  StudentDirectory
	staff     StaffDirectory
	escalator incidentEscalator
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewIncidentService constructs the service.
func NewIncidentService(repo incidentStore, students StudentDirectory, staff StaffDirectory, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *IncidentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &IncidentService{
		repo:      repo,
		students:  students,
		staff:     staff,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	svc.validator.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		return models.IncidentSeverity(strings.ToLower(fl.Field().String())).Valid()
	})
	svc.validator.RegisterValidation("outcome", func(fl validator.FieldLevel) bool {
		return models.IncidentOutcome(strings.ToLower(fl.Field().String())).Valid()
	})
	return svc
}

// UseEscalator wires the case workflow used when an incident is reported as escalated.
func (s *IncidentService) UseEscalator(escalator incidentEscalator) {
	s.escalator = escalator
}

// CreateIncident validates and stores a new incident.
func (s *IncidentService) CreateIncident(ctx context.Context, req CreateIncidentRequest) (*models.Incident, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid incident payload")
	}
	severity := models.IncidentSeverity(strings.ToLower(req.Severity))
	outcome := models.IncidentOutcome(strings.ToLower(req.Outcome))
	escalate := outcome == models.OutcomeEscalated
	if escalate && strings.TrimSpace(req.ExpertID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expert_id is required when outcome is escalated")
	}
	if req.OccurredAt.After(s.now().Add(time.Minute)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "occurred_at cannot be in the future")
	}

	if _, err := lookupStudent(ctx, s.students, req.StudentID); err != nil {
		return nil, err
	}
	if _, err := lookupTeacher(ctx, s.staff, req.TeacherID); err != nil {
		return nil, err
	}
	if escalate {
		if s.escalator == nil {
			return nil, appErrors.Clone(appErrors.ErrInternal, "escalation workflow unavailable")
		}
		if _, err := lookupExpert(ctx, s.staff, req.ExpertID); err != nil {
			return nil, err
		}
	}

	incident := &models.Incident{
		StudentID:   req.StudentID,
		TeacherID:   req.TeacherID,
		OccurredAt:  req.OccurredAt.UTC(),
		Location:    strings.TrimSpace(req.Location),
		Category:    strings.TrimSpace(req.Category),
		Severity:    severity,
		Description: strings.TrimSpace(req.Description),
		Notes:       req.Notes,
		Strategies:  make(models.Strategies, 0, len(req.Strategies)),
		Outcome:     outcome,
	}
	for _, strategy := range req.Strategies {
		incident.Strategies = append(incident.Strategies, models.Strategy{
			Name:          strings.TrimSpace(strategy.Name),
			Effectiveness: strings.TrimSpace(strategy.Effectiveness),
		})
	}
	if escalate {
		// Stays unresolved until the case is linked.
		incident.Outcome = models.OutcomeUnresolved
	}

	if err := s.repo.Create(ctx, incident); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create incident")
	}
	s.forgetTimeline(ctx, incident.StudentID)

	if escalate {
		_, err := s.escalator.EscalateIncident(ctx, EscalateIncidentRequest{
			IncidentID: incident.ID,
			ExpertID:   req.ExpertID,
			Note:       req.EscalationNote,
		})
		if err != nil {
			if linked, getErr := s.repo.GetByID(ctx, incident.ID); getErr == nil && linked.Escalated() {
				// A concurrent escalation linked the incident first; it stays.
				s.forgetTimeline(ctx, incident.StudentID)
				return linked, nil
			}
			if delErr := s.repo.Delete(ctx, incident.ID); delErr != nil {
				s.logger.Error("failed to remove incident after escalation failure", zap.String("incident_id", incident.ID), zap.Error(delErr))
			}
			s.forgetTimeline(ctx, incident.StudentID)
			return nil, err
		}
		stored, err := s.GetIncident(ctx, incident.ID)
		if err != nil {
			return nil, err
		}
		incident = stored
	}

	s.metrics.RecordIncident(severity, outcome)
	s.logger.Info("incident recorded",
		zap.String("incident_id", incident.ID),
		zap.String("student_id", incident.StudentID),
		zap.String("severity", string(incident.Severity)),
		zap.String("outcome", string(incident.Outcome)),
	)
	return incident, nil
}

// GetIncident returns an incident by id.
func (s *IncidentService) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	incident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrIncidentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load incident")
	}
	return incident, nil
}

// ListIncidentsForStudent returns the student's incidents, newest first.
func (s *IncidentService) ListIncidentsForStudent(ctx context.Context, studentID string) ([]models.Incident, error) {
	if _, err := lookupStudent(ctx, s.students, studentID); err != nil {
		return nil, err
	}
	key := studentIncidentsCacheKey(studentID)
	var cached []models.Incident
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	start := time.Now()
	incidents, err := s.repo.ListByStudent(ctx, studentID)
	s.metrics.ObserveDBQuery("incidents_by_student", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list incidents")
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	_ = s.cache.Set(ctx, key, incidents, 0)
	return incidents, nil
}

// MarkEscalated links the incident to its case. It succeeds at most once per incident.
func (s *IncidentService) MarkEscalated(ctx context.Context, incidentID, caseID string) error {
	err := s.repo.MarkEscalated(ctx, incidentID, caseID, s.now())
	if err == nil {
		if incident, getErr := s.repo.GetByID(ctx, incidentID); getErr == nil {
			s.forgetTimeline(ctx, incident.StudentID)
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark incident escalated")
	}
	if _, getErr := s.GetIncident(ctx, incidentID); getErr != nil {
		return getErr
	}
	return appErrors.ErrAlreadyEscalated
}

// UnlinkCase detaches the incident from caseID and restores outcome. Unlinking
// an incident that is no longer attached to that case is a no-op.
func (s *IncidentService) UnlinkCase(ctx context.Context, incidentID, caseID string, outcome models.IncidentOutcome) error {
	err := s.repo.UnlinkCase(ctx, incidentID, caseID, outcome, s.now())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlink incident")
	}
	if incident, getErr := s.repo.GetByID(ctx, incidentID); getErr == nil {
		s.forgetTimeline(ctx, incident.StudentID)
	}
	return nil
}

// AuthorizeParent returns ErrUnauthorizedParent unless the parent is linked to the student.
func (s *IncidentService) AuthorizeParent(ctx context.Context, studentID, parentID string) error {
	student, err := lookupStudent(ctx, s.students, studentID)
	if err != nil {
		return err
	}
	if !student.HasParent(parentID) {
		return appErrors.ErrUnauthorizedParent
	}
	return nil
}

func (s *IncidentService) forgetTimeline(ctx context.Context, studentID string) {
	_ = s.cache.Delete(ctx, studentIncidentsCacheKey(studentID))
}
