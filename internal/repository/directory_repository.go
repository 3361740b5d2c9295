package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

// DirectoryRepository reads the student and staff directory owned by the
// user-management service. It never writes.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// GetStudent loads a student together with linked guardian IDs.
func (r *DirectoryRepository) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, grade, primary_teacher_id, expert_id, active, created_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	var parentIDs []string
	if err := r.db.SelectContext(ctx, &parentIDs, `SELECT parent_id FROM student_guardians WHERE student_id = $1 ORDER BY parent_id`, id); err != nil {
		return nil, fmt.Errorf("list student guardians: %w", err)
	}
	student.ParentIDs = parentIDs
	return &student, nil
}

// ParentsOf returns guardians linked to the student.
func (r *DirectoryRepository) ParentsOf(ctx context.Context, studentID string) ([]models.Parent, error) {
	const query = `SELECT p.id, p.full_name, p.email, g.relationship
	FROM student_guardians g
	JOIN parents p ON p.id = g.parent_id
	WHERE g.student_id = $1
	ORDER BY p.id`
	var parents []models.Parent
	if err := r.db.SelectContext(ctx, &parents, query, studentID); err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}
	return parents, nil
}

// GetTeacher loads a staff member holding the teacher role.
func (r *DirectoryRepository) GetTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	return r.staffWithRole(ctx, id, models.RoleTeacher)
}

// GetExpert loads a staff member holding the behavioral expert role.
func (r *DirectoryRepository) GetExpert(ctx context.Context, id string) (*models.Expert, error) {
	return r.staffWithRole(ctx, id, models.RoleExpert)
}

func (r *DirectoryRepository) staffWithRole(ctx context.Context, id string, role models.UserRole) (*models.StaffMember, error) {
	const query = `SELECT id, email, full_name, role, active FROM staff WHERE id = $1 AND role = $2`
	var member models.StaffMember
	if err := r.db.GetContext(ctx, &member, query, id, role); err != nil {
		return nil, err
	}
	return &member, nil
}
