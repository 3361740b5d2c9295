package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-behavior-api/internal/models"
)

func newAcknowledgmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var ackRowColumns = []string{"target_type", "target_id", "parent_id", "acknowledged", "acknowledged_at", "feedback_text", "feedback_sent_at", "created_at"}

func TestAcknowledgmentRepositoryEnsureDefault(t *testing.T) {
	db, mock, cleanup := newAcknowledgmentRepoMock(t)
	defer cleanup()

	repo := NewAcknowledgmentRepository(db)
	key := models.AcknowledgmentKey{TargetType: models.TargetCase, TargetID: "case-1", ParentID: "parent-1"}
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (target_type, target_id, parent_id) DO NOTHING")).
		WithArgs(key.TargetType, key.TargetID, key.ParentID, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM acknowledgments WHERE target_type = $1")).
		WithArgs(key.TargetType, key.TargetID, key.ParentID).
		WillReturnRows(sqlmock.NewRows(ackRowColumns).AddRow("case", "case-1", "parent-1", false, nil, nil, nil, now))

	ack, err := repo.EnsureDefault(context.Background(), key, now)
	require.NoError(t, err)
	require.False(t, ack.Acknowledged)
	require.Nil(t, ack.AcknowledgedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgmentRepositoryMarkAcknowledged(t *testing.T) {
	db, mock, cleanup := newAcknowledgmentRepoMock(t)
	defer cleanup()

	repo := NewAcknowledgmentRepository(db)
	key := models.AcknowledgmentKey{TargetType: models.TargetIncident, TargetID: "inc-1", ParentID: "parent-1"}
	first := time.Now().Add(-time.Hour)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(acknowledgments.acknowledged_at, EXCLUDED.acknowledged_at)")).
		WithArgs(key.TargetType, key.TargetID, key.ParentID, now).
		WillReturnRows(sqlmock.NewRows(ackRowColumns).AddRow("incident", "inc-1", "parent-1", true, first, nil, nil, first))

	ack, err := repo.MarkAcknowledged(context.Background(), key, now)
	require.NoError(t, err)
	require.True(t, ack.Acknowledged)
	require.NotNil(t, ack.AcknowledgedAt)
	require.True(t, first.Equal(*ack.AcknowledgedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcknowledgmentRepositorySaveFeedbackAndList(t *testing.T) {
	db, mock, cleanup := newAcknowledgmentRepoMock(t)
	defer cleanup()

	repo := NewAcknowledgmentRepository(db)
	key := models.AcknowledgmentKey{TargetType: models.TargetCase, TargetID: "case-1", ParentID: "parent-1"}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SET feedback_text = EXCLUDED.feedback_text")).
		WithArgs(key.TargetType, key.TargetID, key.ParentID, "thanks", now).
		WillReturnRows(sqlmock.NewRows(ackRowColumns).AddRow("case", "case-1", "parent-1", false, nil, "thanks", now, now))

	ack, err := repo.SaveFeedback(context.Background(), key, "thanks", now)
	require.NoError(t, err)
	require.NotNil(t, ack.FeedbackText)
	require.Equal(t, "thanks", *ack.FeedbackText)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY parent_id")).
		WithArgs(models.TargetCase, "case-1").
		WillReturnRows(sqlmock.NewRows(ackRowColumns).
			AddRow("case", "case-1", "parent-1", false, nil, "thanks", now, now).
			AddRow("case", "case-1", "parent-2", true, now, nil, nil, now))

	list, err := repo.ListForTarget(context.Background(), models.TargetCase, "case-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.True(t, list[1].Acknowledged)
	require.NoError(t, mock.ExpectationsWereMet())
}
