package memory

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/repository"
)

func TestIncidentStoreListNewestFirst(t *testing.T) {
	store := NewIncidentStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	older := &models.Incident{StudentID: "s1", OccurredAt: base}
	newer := &models.Incident{StudentID: "s1", OccurredAt: base.Add(time.Hour)}
	sameTime := &models.Incident{StudentID: "s1", OccurredAt: base.Add(time.Hour)}
	other := &models.Incident{StudentID: "s2", OccurredAt: base}
	for _, inc := range []*models.Incident{older, newer, sameTime, other} {
		require.NoError(t, store.Create(ctx, inc))
		require.NotEmpty(t, inc.ID)
	}

	list, err := store.ListByStudent(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, sameTime.ID, list[0].ID)
	assert.Equal(t, newer.ID, list[1].ID)
	assert.Equal(t, older.ID, list[2].ID)
}

func TestIncidentStoreMarkEscalatedOnce(t *testing.T) {
	store := NewIncidentStore()
	ctx := context.Background()
	inc := &models.Incident{StudentID: "s1", Outcome: models.OutcomeUnresolved}
	require.NoError(t, store.Create(ctx, inc))

	require.NoError(t, store.MarkEscalated(ctx, inc.ID, "case-1", time.Now()))
	require.ErrorIs(t, store.MarkEscalated(ctx, inc.ID, "case-2", time.Now()), sql.ErrNoRows)

	got, err := store.GetByID(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEscalated, got.Outcome)
	assert.Equal(t, "case-1", *got.CaseID)
}

func TestCaseStoreUpdateStatusCompareAndSet(t *testing.T) {
	store := NewCaseStore()
	ctx := context.Background()
	c := &models.Case{IncidentID: "i1", Status: models.CaseStatusUnderReview}
	require.NoError(t, store.Create(ctx, c))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.UpdateStatus(ctx, models.CaseStatusUpdate{
				ID:   c.ID,
				From: models.CaseStatusUnderReview,
				To:   models.CaseStatusClosed,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, sql.ErrNoRows)
	}
	assert.Equal(t, 1, succeeded)
}

func TestCaseStoreDueFollowUps(t *testing.T) {
	store := NewCaseStore()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := &models.Case{Status: models.CaseStatusMonitoring, FollowUpAt: &past}
	notDue := &models.Case{Status: models.CaseStatusMonitoring, FollowUpAt: &future}
	closed := &models.Case{Status: models.CaseStatusClosed, FollowUpAt: &past}
	for _, c := range []*models.Case{due, notDue, closed} {
		require.NoError(t, store.Create(ctx, c))
	}

	list, err := store.ListDueFollowUps(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	require.NoError(t, store.MarkReminderSent(ctx, due.ID, past, now))
	require.ErrorIs(t, store.MarkReminderSent(ctx, due.ID, past, now), sql.ErrNoRows)

	list, err = store.ListDueFollowUps(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAcknowledgmentStoreKeepsFirstTimestamp(t *testing.T) {
	store := NewAcknowledgmentStore()
	ctx := context.Background()
	key := models.AcknowledgmentKey{TargetType: models.TargetCase, TargetID: "c1", ParentID: "p1"}
	first := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	ack, err := store.MarkAcknowledged(ctx, key, first)
	require.NoError(t, err)
	again, err := store.MarkAcknowledged(ctx, key, first.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, *ack.AcknowledgedAt, *again.AcknowledgedAt)

	_, err = store.SaveFeedback(ctx, key, "first", first)
	require.NoError(t, err)
	updated, err := store.SaveFeedback(ctx, key, "second", first.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "second", *updated.FeedbackText)
	assert.True(t, updated.Acknowledged)
}

func TestNotificationStoreMarkReadIdempotent(t *testing.T) {
	store := NewNotificationStore()
	ctx := context.Background()
	event := &models.NotificationEvent{RecipientRole: models.RoleExpert, RecipientID: "e1", Kind: models.NotificationCaseAssigned}
	require.NoError(t, store.Create(ctx, event))

	first := time.Now().UTC()
	require.NoError(t, store.MarkRead(ctx, event.ID, first))
	require.NoError(t, store.MarkRead(ctx, event.ID, first.Add(time.Hour)))

	got, err := store.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadAt.Equal(first))
	require.ErrorIs(t, store.MarkRead(ctx, "missing", first), sql.ErrNoRows)

	unread, err := store.List(ctx, models.NotificationFilter{RecipientRole: models.RoleExpert, RecipientID: "e1", UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestDirectoryRoleScopedLookups(t *testing.T) {
	dir := NewDirectory()
	SeedDemo(dir)
	ctx := context.Background()

	_, err := dir.GetExpert(ctx, "teacher-1")
	require.ErrorIs(t, err, sql.ErrNoRows)

	expert, err := dir.GetExpert(ctx, "expert-1")
	require.NoError(t, err)
	assert.True(t, expert.Active)

	parents, err := dir.ParentsOf(ctx, "student-1")
	require.NoError(t, err)
	assert.Len(t, parents, 2)
}

func TestNewStoresSeedsDirectoryOnRequest(t *testing.T) {
	ctx := context.Background()

	seeded := NewStores(true)
	student, err := seeded.Directory.GetStudent(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Alex Johnson", student.FullName)

	empty := NewStores(false)
	_, err = empty.Directory.GetStudent(ctx, "student-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCaseStoreOneCasePerIncident(t *testing.T) {
	store := NewCaseStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Case{IncidentID: "i1", Status: models.CaseStatusUnderReview}))
	err := store.Create(ctx, &models.Case{IncidentID: "i1", Status: models.CaseStatusUnderReview})
	require.ErrorIs(t, err, repository.ErrDuplicateCase)
	require.NoError(t, store.Create(ctx, &models.Case{IncidentID: "i2", Status: models.CaseStatusUnderReview}))
}

func TestIncidentStoreUnlinkCase(t *testing.T) {
	store := NewIncidentStore()
	ctx := context.Background()
	incident := &models.Incident{StudentID: "s1", Outcome: models.OutcomeUnresolved}
	require.NoError(t, store.Create(ctx, incident))
	require.NoError(t, store.MarkEscalated(ctx, incident.ID, "case-1", time.Now()))

	require.ErrorIs(t, store.UnlinkCase(ctx, incident.ID, "case-2", models.OutcomeUnresolved, time.Now()), sql.ErrNoRows)
	require.NoError(t, store.UnlinkCase(ctx, incident.ID, "case-1", models.OutcomeUnresolved, time.Now()))

	got, err := store.GetByID(ctx, incident.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CaseID)
	assert.Equal(t, models.OutcomeUnresolved, got.Outcome)
	require.NoError(t, store.MarkEscalated(ctx, incident.ID, "case-3", time.Now()))
}
