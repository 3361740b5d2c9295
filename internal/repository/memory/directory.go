package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

// Directory is an in-memory student and staff directory.
type Directory struct {
	mu       sync.RWMutex
	students map[string]models.Student
	parents  map[string]models.Parent
	staff    map[string]models.StaffMember
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		students: make(map[string]models.Student),
		parents:  make(map[string]models.Parent),
		staff:    make(map[string]models.StaffMember),
	}
}

// AddStudent registers or replaces a student.
func (d *Directory) AddStudent(student models.Student) {
	d.mu.Lock()
	defer d.mu.Unlock()
	student.ParentIDs = append([]string(nil), student.ParentIDs...)
	d.students[student.ID] = student
}

// AddParent registers or replaces a guardian account.
func (d *Directory) AddParent(parent models.Parent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parents[parent.ID] = parent
}

// AddStaff registers or replaces a teacher or expert.
func (d *Directory) AddStaff(member models.StaffMember) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.staff[member.ID] = member
}

// GetStudent returns the student or sql.ErrNoRows.
func (d *Directory) GetStudent(_ context.Context, id string) (*models.Student, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	student, ok := d.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	student.ParentIDs = append([]string(nil), student.ParentIDs...)
	return &student, nil
}

// ParentsOf returns the guardians linked to the student.
func (d *Directory) ParentsOf(_ context.Context, studentID string) ([]models.Parent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	student, ok := d.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	result := make([]models.Parent, 0, len(student.ParentIDs))
	for _, id := range student.ParentIDs {
		if parent, ok := d.parents[id]; ok {
			result = append(result, parent)
			continue
		}
		result = append(result, models.Parent{ID: id})
	}
	return result, nil
}

// GetTeacher returns a staff member with the teacher role.
func (d *Directory) GetTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	return d.staffWithRole(id, models.RoleTeacher)
}

// GetExpert returns a staff member with the expert role.
func (d *Directory) GetExpert(ctx context.Context, id string) (*models.Expert, error) {
	return d.staffWithRole(id, models.RoleExpert)
}

func (d *Directory) staffWithRole(id string, role models.UserRole) (*models.StaffMember, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	member, ok := d.staff[id]
	if !ok || member.Role != role {
		return nil, sql.ErrNoRows
	}
	return &member, nil
}
