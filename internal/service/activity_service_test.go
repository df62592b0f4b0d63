package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
	filter  repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.filter = filter
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSecrets(t *testing.T) {
	repo := &memoryActivityRepo{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := NewActivityService(repo, staticAccess{}, validate, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		CourseID:   3,
		ActorID:    1,
		ActorRole:  "Teacher",
		Action:     "Grade.Released",
		EntityType: "attempt",
		EntityID:   ptrUint(5),
		Metadata: map[string]interface{}{
			"access_token": "abc",
			"score":        4.5,
			"question":     map[string]interface{}{"id": 7, "answer_key": "B"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["access_token"])
	require.Equal(t, 4.5, entry.Metadata["score"])
	require.Equal(t, map[string]interface{}{"id": 7, "answer_key": "***"}, entry.Metadata["question"])
	require.Equal(t, "teacher", entry.ActorRole)
	require.Equal(t, ActivityGradeReleased, entry.Action)
}

func TestActivityServiceListRequiresStaff(t *testing.T) {
	repo := &memoryActivityRepo{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	access := staticAccess{staff: map[uint]bool{9: true}}
	svc := NewActivityService(repo, access, validate, testLogger())

	_, err := svc.List(context.Background(), Actor{ID: 2, Role: "student"}, dto.ActivityListRequest{CourseID: 3})
	require.ErrorIs(t, err, ErrCourseAccessDenied)

	_, err = svc.Record(context.Background(), ActivityEntry{ActorID: 9, Action: ActivityGradeReleased, EntityType: "attempt"})
	require.NoError(t, err)

	list, err := svc.List(context.Background(), Actor{ID: 9, Role: "teacher"}, dto.ActivityListRequest{CourseID: 3, EntityID: 5, Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	require.Equal(t, uint(3), repo.filter.CourseID)
	require.Equal(t, uint(5), *repo.filter.EntityID)
	require.Equal(t, 1, list.Pagination.TotalPages)
}

func TestActivityServiceCorrelationAndTimeRange(t *testing.T) {
	repo := &memoryActivityRepo{}
	validate := validator.New(validator.WithRequiredStructEnabled())
	access := staticAccess{staff: map[uint]bool{9: true}}
	svc := NewActivityService(repo, access, validate, testLogger())

	ctx := middleware.ContextWithCorrelation(context.Background(), "req-42")
	entry, err := svc.Record(ctx, ActivityEntry{CourseID: 3, ActorID: 9, Action: ActivityWeightsUpdated, EntityType: "course"})
	require.NoError(t, err)
	require.Equal(t, "req-42", entry.CorrelationID)

	teacher := Actor{ID: 9, Role: "teacher"}
	_, err = svc.List(context.Background(), teacher, dto.ActivityListRequest{
		CourseID: 3,
		Since:    "2026-03-01T00:00:00Z",
		Until:    "2026-04-01T00:00:00+07:00",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.filter.Since)
	require.Equal(t, time.Date(2026, 3, 31, 17, 0, 0, 0, time.UTC), *repo.filter.Until)

	_, err = svc.List(context.Background(), teacher, dto.ActivityListRequest{
		CourseID: 3,
		Since:    "2026-04-01T00:00:00Z",
		Until:    "2026-03-01T00:00:00Z",
	})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.List(context.Background(), teacher, dto.ActivityListRequest{CourseID: 3, Since: "yesterday"})
	require.Error(t, err)
}

func ptrUint(v uint) *uint {
	return &v
}
