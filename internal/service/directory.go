package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	appErrors "github.com/noah-isme/sma-behavior-api/pkg/errors"
)

// StudentDirectory is the read-only student lookup owned by the user-management service.
type StudentDirectory interface {
	GetStudent(ctx context.Context, id string) (*models.Student, error)
	ParentsOf(ctx context.Context, studentID string) ([]models.Parent, error)
}

// StaffDirectory is the read-only staff lookup owned by the user-management service.
type StaffDirectory interface {
	GetTeacher(ctx context.Context, id string) (*models.Teacher, error)
	GetExpert(ctx context.Context, id string) (*models.Expert, error)
}

func lookupStudent(ctx context.Context, dir StudentDirectory, id string) (*models.Student, error) {
	student, err := dir.GetStudent(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func lookupTeacher(ctx context.Context, dir StaffDirectory, id string) (*models.Teacher, error) {
	teacher, err := dir.GetTeacher(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTeacherNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// lookupExpert treats inactive experts as unknown; they cannot take new cases.
func lookupExpert(ctx context.Context, dir StaffDirectory, id string) (*models.Expert, error) {
	if id == "" {
		return nil, appErrors.ErrExpertNotFound
	}
	expert, err := dir.GetExpert(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrExpertNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load expert")
	}
	if !expert.Active {
		return nil, appErrors.ErrExpertNotFound
	}
	return expert, nil
}

func parentIDsOf(ctx context.Context, dir StudentDirectory, studentID string) ([]string, error) {
	parents, err := dir.ParentsOf(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parents")
	}
	ids := make([]string, 0, len(parents))
	for _, parent := range parents {
		ids = append(ids, parent.ID)
	}
	return ids, nil
}
