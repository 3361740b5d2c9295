package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

func newDirectoryRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestDirectoryRepositoryGetStudentLoadsGuardians(t *testing.T) {
	db, mock, cleanup := newDirectoryRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM students WHERE id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "grade", "primary_teacher_id", "expert_id", "active", "created_at"}).
			AddRow("student-1", "Alex Johnson", "5", "teacher-1", "expert-1", true, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT parent_id FROM student_guardians")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"parent_id"}).AddRow("parent-1").AddRow("parent-2"))

	student, err := repo.GetStudent(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, []string{"parent-1", "parent-2"}, student.ParentIDs)
	require.True(t, student.HasParent("parent-2"))
	require.False(t, student.HasParent("parent-3"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryParentsOf(t *testing.T) {
	db, mock, cleanup := newDirectoryRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM student_guardians g")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "relationship"}).
			AddRow("parent-1", "Sam Johnson", "sam@example.com", "mother"))

	parents, err := repo.ParentsOf(context.Background(), "student-1")
	require.NoError(t, err)
	require.Len(t, parents, 1)
	require.Equal(t, "mother", parents[0].Relationship)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryGetExpertScopesRole(t *testing.T) {
	db, mock, cleanup := newDirectoryRepoMock(t)
	defer cleanup()

	repo := NewDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM staff WHERE id = $1 AND role = $2")).
		WithArgs("teacher-1", models.RoleExpert).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetExpert(context.Background(), "teacher-1")
	require.ErrorIs(t, err, sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta("FROM staff WHERE id = $1 AND role = $2")).
		WithArgs("teacher-1", models.RoleTeacher).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "role", "active"}).
			AddRow("teacher-1", "t@example.com", "Ms. Rivera", "TEACHER", true))

	teacher, err := repo.GetTeacher(context.Background(), "teacher-1")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, teacher.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}
