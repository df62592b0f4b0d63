package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// ErrAttemptConflict indicates the attempt row changed since it was read, or
// another attempt claimed the same attempt number.
var ErrAttemptConflict = errors.New("attempt was modified concurrently")

// AttemptFilter narrows attempt listings.
type AttemptFilter struct {
	CourseID     uint
	AssessmentID uint
	StudentID    uint
	States       []models.AttemptState
	Page         int
	PageSize     int
}

// AttemptRepository persists attempts with optimistic versioning.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	Save(ctx context.Context, attempt *models.Attempt, grade *models.GradedItem) error
	FindByID(ctx context.Context, id uint) (models.Attempt, error)
	CountByStudent(ctx context.Context, assessmentID, studentID uint) (int64, error)
	List(ctx context.Context, filter AttemptFilter) ([]models.Attempt, int64, error)
	ListInProgress(ctx context.Context) ([]models.Attempt, error)
	BestReleased(ctx context.Context, assessmentID, studentID uint, excludeID uint) (*models.Attempt, error)
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository constructs the attempt repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	if attempt.Version == 0 {
		attempt.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAttemptConflict
		}
		return err
	}
	return nil
}

// Save writes the attempt only if its stored version still matches, bumping
// the version. A non-nil grade is upserted in the same transaction.
func (r *attemptRepository) Save(ctx context.Context, attempt *models.Attempt, grade *models.GradedItem) error {
	next := attempt.Clone()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expected := next.Version
		next.Version = expected + 1

		result := tx.Model(&models.Attempt{ID: next.ID}).
			Where("version = ?", expected).
			Select("*").
			Omit("ID", "CreatedAt").
			Updates(&next)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAttemptConflict
		}

		if grade != nil {
			return upsertGradedItem(tx, grade)
		}
		return nil
	})
	if err != nil {
		return err
	}

	attempt.Version = next.Version
	attempt.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *attemptRepository) FindByID(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

func (r *attemptRepository) CountByStudent(ctx context.Context, assessmentID, studentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("assessment_id = ? AND student_id = ?", assessmentID, studentID).
		Count(&count).Error
	return count, err
}

func (r *attemptRepository) List(ctx context.Context, filter AttemptFilter) ([]models.Attempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Attempt{})
	if filter.CourseID != 0 {
		query = query.Where("course_id = ?", filter.CourseID)
	}
	if filter.AssessmentID != 0 {
		query = query.Where("assessment_id = ?", filter.AssessmentID)
	}
	if filter.StudentID != 0 {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if len(filter.States) > 0 {
		query = query.Where("state IN ?", filter.States)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query, filter.Page, filter.PageSize)

	var attempts []models.Attempt
	if err := query.Order("submitted_at ASC, id ASC").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (r *attemptRepository) ListInProgress(ctx context.Context) ([]models.Attempt, error) {
	var attempts []models.Attempt
	if err := r.db.WithContext(ctx).
		Where("state = ?", models.AttemptStateInProgress).
		Order("id ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

// BestReleased returns the highest-scoring released attempt of a student,
// ignoring excludeID. It returns nil when there is none.
func (r *attemptRepository) BestReleased(ctx context.Context, assessmentID, studentID uint, excludeID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.WithContext(ctx).
		Where("assessment_id = ? AND student_id = ? AND id <> ?", assessmentID, studentID, excludeID).
		Where("released = ? AND score IS NOT NULL", true).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "score"}, Desc: true}).
		Order("id DESC").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}
