package models

import "time"

// Student represents a learner as exposed by the student directory.
type Student struct {
	ID               string    `db:"id" json:"id"`
	FullName         string    `db:"full_name" json:"full_name"`
	Grade            string    `db:"grade" json:"grade"`
	PrimaryTeacherID string    `db:"primary_teacher_id" json:"primary_teacher_id"`
	ExpertID         *string   `db:"expert_id" json:"expert_id,omitempty"`
	ParentIDs        []string  `db:"-" json:"parent_ids"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// HasParent reports whether the guardian is linked to the student.
func (s *Student) HasParent(parentID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.ParentIDs {
		if id == parentID {
			return true
		}
	}
	return false
}

// Parent is a guardian account linked to one or more students.
type Parent struct {
	ID           string `db:"id" json:"id"`
	FullName     string `db:"full_name" json:"full_name"`
	Email        string `db:"email" json:"email"`
	Relationship string `db:"relationship" json:"relationship"`
}
