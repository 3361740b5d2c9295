package models

// StaffMember is a teacher or behavioral expert record from the staff directory.
type StaffMember struct {
	ID       string   `db:"id" json:"id"`
	Email    string   `db:"email" json:"email"`
	FullName string   `db:"full_name" json:"full_name"`
	Role     UserRole `db:"role" json:"role"`
	Active   bool     `db:"active" json:"active"`
}

// Teacher reports incidents for the students they supervise.
type Teacher = StaffMember

// Expert reviews escalated cases.
type Expert = StaffMember
