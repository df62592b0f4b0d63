package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// GradeRepository persists gradebook entries.
type GradeRepository interface {
	Upsert(ctx context.Context, item *models.GradedItem) error
	ListByStudent(ctx context.Context, studentID, courseID uint) ([]models.GradedItem, error)
	ListByCourse(ctx context.Context, courseID uint) ([]models.GradedItem, error)
	FindBySource(ctx context.Context, studentID uint, source models.GradedItemSource, sourceID uint) (models.GradedItem, error)
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository constructs the graded item repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

func (r *gradeRepository) Upsert(ctx context.Context, item *models.GradedItem) error {
	return upsertGradedItem(r.db.WithContext(ctx), item)
}

// upsertGradedItem replaces the row for (student, source) so a regrade never
// produces a second gradebook entry.
func upsertGradedItem(tx *gorm.DB, item *models.GradedItem) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "source_type"}, {Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"course_id", "title", "category", "points_possible", "score", "released", "graded_by", "graded_at", "updated_at",
		}),
	}).Create(item).Error
}

func (r *gradeRepository) ListByStudent(ctx context.Context, studentID, courseID uint) ([]models.GradedItem, error) {
	var items []models.GradedItem
	if err := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gradeRepository) ListByCourse(ctx context.Context, courseID uint) ([]models.GradedItem, error) {
	var items []models.GradedItem
	if err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("student_id ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *gradeRepository) FindBySource(ctx context.Context, studentID uint, source models.GradedItemSource, sourceID uint) (models.GradedItem, error) {
	var item models.GradedItem
	if err := r.db.WithContext(ctx).
		Where("student_id = ? AND source_type = ? AND source_id = ?", studentID, source, sourceID).
		First(&item).Error; err != nil {
		return models.GradedItem{}, err
	}
	return item, nil
}
