package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

const maxFeedbackChars = 4000

type acknowledgmentStore interface {
	Get(ctx context.Context, key models.AcknowledgmentKey) (*models.Acknowledgment, error)
	EnsureDefault(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error)
	MarkAcknowledged(ctx context.Context, key models.AcknowledgmentKey, at time.Time) (*models.Acknowledgment, error)
	SaveFeedback(ctx context.Context, key models.AcknowledgmentKey, text string, at time.Time) (*models.Acknowledgment, error)
	ListForTarget(ctx context.Context, targetType models.TargetType, targetID string) ([]models.Acknowledgment, error)
}

type incidentReader interface {
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
}

type acknowledgedCases interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
	SetParentAcknowledged(ctx context.Context, id string) error
}

// AcknowledgmentRequest identifies the parent and the incident or case they act on.
type AcknowledgmentRequest struct {
	ParentID   string            `json:"-"`
	TargetType models.TargetType `json:"target_type"`
	TargetID   string            `json:"target_id"`
}

// FeedbackRequest carries a parent's feedback for a target.
type FeedbackRequest struct {
	AcknowledgmentRequest
	Text string `json:"text"`
}

// ackTarget is the resolved incident or case a parent acknowledges.
type ackTarget struct {
	studentID     string
	recipientRole models.UserRole
	recipientID   string
}

// AcknowledgmentService records parent acknowledgment and feedback. It never
// consults or changes case status.
type AcknowledgmentService struct {
	repo      acknowledgmentStore
	incidents incidentReader
	cases     acknowledgedCases
	students  StudentDirectory
	notifier  notificationPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewAcknowledgmentService constructs the service.
func NewAcknowledgmentService(repo acknowledgmentStore, incidents incidentReader, cases acknowledgedCases, students StudentDirectory, notifier notificationPublisher, logger *zap.Logger) *AcknowledgmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcknowledgmentService{
		repo:      repo,
		incidents: incidents,
		cases:     cases,
		students:  students,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Acknowledge marks the target as seen by the parent. Repeat calls return the
// existing record with its original acknowledgedAt.
func (s *AcknowledgmentService) Acknowledge(ctx context.Context, req AcknowledgmentRequest) (*models.Acknowledgment, error) {
	target, err := s.authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	ack, err := s.repo.MarkAcknowledged(ctx, keyFor(req), s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record acknowledgment")
	}
	if req.TargetType == models.TargetCase {
		if err := s.cases.SetParentAcknowledged(ctx, req.TargetID); err != nil {
			s.logger.Warn("failed to flag case acknowledged", zap.String("case_id", req.TargetID), zap.Error(err))
		}
	}
	s.logger.Info("parent acknowledged",
		zap.String("parent_id", req.ParentID),
		zap.String("target_type", string(req.TargetType)),
		zap.String("target_id", req.TargetID),
		zap.String("student_id", target.studentID),
	)
	return ack, nil
}

// SubmitFeedback stores the parent's single feedback slot for the target and
// routes it to the assigned expert (cases) or the reporting teacher (incidents).
func (s *AcknowledgmentService) SubmitFeedback(ctx context.Context, req FeedbackRequest) (*models.Acknowledgment, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, appErrors.ErrEmptyFeedback
	}
	if utf8.RuneCountInString(text) > maxFeedbackChars {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("feedback must be at most %d characters", maxFeedbackChars))
	}
	target, err := s.authorize(ctx, req.AcknowledgmentRequest)
	if err != nil {
		return nil, err
	}
	ack, err := s.repo.SaveFeedback(ctx, keyFor(req.AcknowledgmentRequest), text, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save feedback")
	}

	event := models.NotificationEvent{
		RecipientRole: target.recipientRole,
		RecipientID:   target.recipientID,
		Kind:          models.NotificationFeedbackReceived,
		SubjectType:   req.TargetType,
		SubjectID:     req.TargetID,
		Message:       text,
	}
	if _, err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("feedback notification failed",
			zap.String("target_id", req.TargetID),
			zap.String("recipient_id", target.recipientID),
			zap.Error(err),
		)
	}
	return ack, nil
}

// GetStatus returns the parent's record for the target, creating the
// unacknowledged default on first view.
func (s *AcknowledgmentService) GetStatus(ctx context.Context, req AcknowledgmentRequest) (*models.Acknowledgment, error) {
	if _, err := s.authorize(ctx, req); err != nil {
		return nil, err
	}
	ack, err := s.repo.EnsureDefault(ctx, keyFor(req), s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load acknowledgment")
	}
	return ack, nil
}

// StatusesForTarget returns one record per parent without persisting defaults.
func (s *AcknowledgmentService) StatusesForTarget(ctx context.Context, targetType models.TargetType, targetID string, parentIDs []string) ([]models.Acknowledgment, error) {
	stored, err := s.repo.ListForTarget(ctx, targetType, targetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list acknowledgments")
	}
	byParent := make(map[string]models.Acknowledgment, len(stored))
	for _, ack := range stored {
		byParent[ack.ParentID] = ack
	}
	result := make([]models.Acknowledgment, 0, len(parentIDs))
	for _, parentID := range parentIDs {
		if ack, ok := byParent[parentID]; ok {
			result = append(result, ack)
			continue
		}
		result = append(result, models.Acknowledgment{TargetType: targetType, TargetID: targetID, ParentID: parentID})
	}
	return result, nil
}

// authorize resolves the target and rejects parents not linked to its student
// before anything is written.
func (s *AcknowledgmentService) authorize(ctx context.Context, req AcknowledgmentRequest) (*ackTarget, error) {
	if strings.TrimSpace(req.ParentID) == "" {
		return nil, appErrors.ErrParentNotFound
	}
	if !req.TargetType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target_type must be incident or case")
	}
	if strings.TrimSpace(req.TargetID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target_id is required")
	}

	target, err := s.resolve(ctx, req.TargetType, req.TargetID)
	if err != nil {
		return nil, err
	}
	student, err := lookupStudent(ctx, s.students, target.studentID)
	if err != nil {
		return nil, err
	}
	if !student.HasParent(req.ParentID) {
		return nil, appErrors.ErrUnauthorizedParent
	}
	return target, nil
}

func (s *AcknowledgmentService) resolve(ctx context.Context, targetType models.TargetType, targetID string) (*ackTarget, error) {
	if targetType == models.TargetIncident {
		incident, err := s.incidents.GetIncident(ctx, targetID)
		if err != nil {
			return nil, err
		}
		return &ackTarget{studentID: incident.StudentID, recipientRole: models.RoleTeacher, recipientID: incident.TeacherID}, nil
	}
	c, err := s.cases.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCaseNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	return &ackTarget{studentID: c.StudentID, recipientRole: models.RoleExpert, recipientID: c.ExpertID}, nil
}

func keyFor(req AcknowledgmentRequest) models.AcknowledgmentKey {
	return models.AcknowledgmentKey{TargetType: req.TargetType, TargetID: req.TargetID, ParentID: req.ParentID}
}
