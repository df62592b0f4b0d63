package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// CategoryWeightRepository persists a course's gradebook weights.
type CategoryWeightRepository interface {
	ListByCourse(ctx context.Context, courseID uint) ([]models.CategoryWeight, error)
	Replace(ctx context.Context, courseID uint, weights []models.CategoryWeight) error
}

type categoryWeightRepository struct {
	db *gorm.DB
}

// NewCategoryWeightRepository constructs the weight repository.
func NewCategoryWeightRepository(db *gorm.DB) CategoryWeightRepository {
	return &categoryWeightRepository{db: db}
}

func (r *categoryWeightRepository) ListByCourse(ctx context.Context, courseID uint) ([]models.CategoryWeight, error) {
	var weights []models.CategoryWeight
	if err := r.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("category ASC").
		Find(&weights).Error; err != nil {
		return nil, err
	}
	return weights, nil
}

// Replace swaps the whole weight set of a course atomically. An empty set
// switches the course to unweighted mode.
func (r *categoryWeightRepository) Replace(ctx context.Context, courseID uint, weights []models.CategoryWeight) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("course_id = ?", courseID).Delete(&models.CategoryWeight{}).Error; err != nil {
			return err
		}
		if len(weights) == 0 {
			return nil
		}
		for i := range weights {
			weights[i].ID = 0
			weights[i].CourseID = courseID
		}
		return tx.Create(&weights).Error
	})
}
