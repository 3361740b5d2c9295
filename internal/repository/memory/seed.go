package memory

import (
	"time"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

// SeedDemo fills the directory with a small roster matching the portal demo accounts.
func SeedDemo(d *Directory) {
	now := time.Now().UTC()
	expert := "expert-1"

	d.AddStaff(models.StaffMember{ID: "teacher-1", Email: "j.smith@school.test", FullName: "Jane Smith", Role: models.RoleTeacher, Active: true})
	d.AddStaff(models.StaffMember{ID: "teacher-2", Email: "r.brown@school.test", FullName: "Robert Brown", Role: models.RoleTeacher, Active: true})
	d.AddStaff(models.StaffMember{ID: expert, Email: "s.lee@school.test", FullName: "Dr. Sarah Lee", Role: models.RoleExpert, Active: true})
	d.AddStaff(models.StaffMember{ID: "expert-2", Email: "m.garcia@school.test", FullName: "Dr. Miguel Garcia", Role: models.RoleExpert, Active: false})

	d.AddParent(models.Parent{ID: "parent-1", FullName: "Maria Johnson", Email: "maria.j@family.test", Relationship: "mother"})
	d.AddParent(models.Parent{ID: "parent-2", FullName: "David Johnson", Email: "david.j@family.test", Relationship: "father"})
	d.AddParent(models.Parent{ID: "parent-3", FullName: "Linda Chen", Email: "linda.c@family.test", Relationship: "mother"})

	d.AddStudent(models.Student{
		ID:               "student-1",
		FullName:         "Alex Johnson",
		Grade:            "5",
		PrimaryTeacherID: "teacher-1",
		ExpertID:         &expert,
		ParentIDs:        []string{"parent-1", "parent-2"},
		Active:           true,
		CreatedAt:        now,
	})
	d.AddStudent(models.Student{
		ID:               "student-2",
		FullName:         "Emma Chen",
		Grade:            "4",
		PrimaryTeacherID: "teacher-2",
		ParentIDs:        []string{"parent-3"},
		Active:           true,
		CreatedAt:        now,
	})
}
