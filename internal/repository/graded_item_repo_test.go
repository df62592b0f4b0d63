package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

func TestGradeRepositoryUpsertReplacesRow(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradeRepository(db)
	ctx := context.Background()

	first := 10.0
	item := models.GradedItem{CourseID: 5, StudentID: 2, SourceType: models.GradedItemSourceAssignment, SourceID: 8, Category: "homework", PointsPossible: 20, Score: &first, Released: true}
	require.NoError(t, repo.Upsert(ctx, &item))

	second := 18.0
	regrade := models.GradedItem{CourseID: 5, StudentID: 2, SourceType: models.GradedItemSourceAssignment, SourceID: 8, Category: "homework", PointsPossible: 20, Score: &second, Released: true}
	require.NoError(t, repo.Upsert(ctx, &regrade))

	items, err := repo.ListByStudent(ctx, 2, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 18.0, *items[0].Score)

	other := models.GradedItem{CourseID: 5, StudentID: 3, SourceType: models.GradedItemSourceAssignment, SourceID: 8, Category: "homework", PointsPossible: 20}
	require.NoError(t, repo.Upsert(ctx, &other))

	all, err := repo.ListByCourse(ctx, 5)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCategoryWeightRepositoryReplace(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCategoryWeightRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Replace(ctx, 5, []models.CategoryWeight{{Category: "homework", Weight: 0.3}, {Category: "exam", Weight: 0.7}}))
	require.NoError(t, repo.Replace(ctx, 6, []models.CategoryWeight{{Category: "exam", Weight: 1}}))

	weights, err := repo.ListByCourse(ctx, 5)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	require.Equal(t, "exam", weights[0].Category)

	require.NoError(t, repo.Replace(ctx, 5, nil))
	weights, err = repo.ListByCourse(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, weights)

	weights, err = repo.ListByCourse(ctx, 6)
	require.NoError(t, err)
	require.Len(t, weights, 1)
}

func TestCourseMemberRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCourseMemberRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.CourseMember{CourseID: 5, UserID: 1, Role: models.CourseRoleStudent}))
	require.NoError(t, repo.Upsert(ctx, &models.CourseMember{CourseID: 5, UserID: 2, Role: models.CourseRoleStudent}))
	require.NoError(t, repo.Upsert(ctx, &models.CourseMember{CourseID: 5, UserID: 2, Role: models.CourseRoleAssistant}))

	member, err := repo.Find(ctx, 5, 2)
	require.NoError(t, err)
	require.True(t, member.IsStaff())

	students, err := repo.ListByRole(ctx, 5, models.CourseRoleStudent)
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.Equal(t, uint(1), students[0].UserID)
}

func TestNotificationRepositoryInbox(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()

	first := models.Notification{UserID: 7, CourseID: 3, Type: models.NotificationKindPublished, Message: "Quiz 1 is open"}
	second := models.Notification{UserID: 7, CourseID: 3, Type: models.NotificationKindReleased, Message: "Quiz 1 graded"}
	other := models.Notification{UserID: 7, CourseID: 4, Type: models.NotificationKindReleased, Message: "Essay graded"}
	require.NoError(t, repo.Create(ctx, &first))
	require.NoError(t, repo.Create(ctx, &second))
	require.NoError(t, repo.Create(ctx, &other))

	unread, err := repo.CountUnread(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), unread)

	unread, err = repo.CountUnread(ctx, 7, 3)
	require.NoError(t, err)
	require.Equal(t, int64(2), unread)

	marked, err := repo.MarkRead(ctx, first.ID, 7)
	require.NoError(t, err)
	require.True(t, marked.Read)

	_, err = repo.MarkRead(ctx, second.ID, 8)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	items, err := repo.List(ctx, NotificationFilter{UserID: 7, CourseID: 3, UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, second.ID, items[0].ID)

	items, err = repo.List(ctx, NotificationFilter{UserID: 7, Kind: models.NotificationKindReleased})
	require.NoError(t, err)
	require.Len(t, items, 2)

	changed, err := repo.MarkAllRead(ctx, 7, 4)
	require.NoError(t, err)
	require.Equal(t, int64(1), changed)

	unread, err = repo.CountUnread(ctx, 7, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), unread)
}

func TestSuggestionRepositoryResolveOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSuggestionRepository(db)
	ctx := context.Background()

	draft := models.SuggestionDraft{CourseID: 5, Kind: models.SuggestionKindAssessment, RequestedBy: 1, Status: models.SuggestionStatusPending, Payload: []byte(`{"title":"x"}`)}
	require.NoError(t, repo.Create(ctx, &draft))

	resolver := uint(1)
	draft.Status = models.SuggestionStatusRejected
	draft.ResolvedBy = &resolver
	require.NoError(t, repo.Resolve(ctx, &draft))

	draft.Status = models.SuggestionStatusConfirmed
	require.Error(t, repo.Resolve(ctx, &draft))

	stored, err := repo.FindByID(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, models.SuggestionStatusRejected, stored.Status)

	pending, err := repo.ListByCourse(ctx, 5, models.SuggestionStatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
}
