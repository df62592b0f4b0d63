package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// AssessmentFilter narrows assessment listings.
type AssessmentFilter struct {
	CourseID uint
	Status   models.AssessmentStatus
	Page     int
	PageSize int
}

// AssessmentRepository persists assessments and their question banks.
type AssessmentRepository interface {
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	FindByID(ctx context.Context, id uint) (models.Assessment, error)
	List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, int64, error)
	UpdateStatus(ctx context.Context, id uint, status models.AssessmentStatus, publishedAt *time.Time) error
	Questions(ctx context.Context, assessmentID uint) ([]models.Question, error)
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository constructs the assessment repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		questions := assessment.Questions
		assessment.Questions = nil
		if err := tx.Create(assessment).Error; err != nil {
			assessment.Questions = questions
			return err
		}
		assessment.Questions = questions
		return createQuestions(tx, assessment.ID, assessment.Questions)
	})
}

// Update rewrites the assessment row and replaces its question bank. Attempts
// keep their own snapshots so replacing rows never alters them.
func (r *assessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Assessment{ID: assessment.ID}).
			Select("Title", "Description", "Category", "DueAt", "TimeLimitMinutes", "AttemptsAllowed", "RandomizeOrder", "PoolEnabled", "PoolSize", "UpdatedAt").
			Updates(assessment)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Where("assessment_id = ?", assessment.ID).Delete(&models.Question{}).Error; err != nil {
			return err
		}
		return createQuestions(tx, assessment.ID, assessment.Questions)
	})
}

func createQuestions(tx *gorm.DB, assessmentID uint, questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	for i := range questions {
		questions[i].ID = 0
		questions[i].AssessmentID = assessmentID
		questions[i].Position = i + 1
	}
	return tx.Create(&questions).Error
}

func (r *assessmentRepository) FindByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&assessment, id).Error
	if err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (r *assessmentRepository) List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Assessment{})
	if filter.CourseID != 0 {
		query = query.Where("course_id = ?", filter.CourseID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query, filter.Page, filter.PageSize)

	var assessments []models.Assessment
	if err := query.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Order("due_at ASC, id ASC").
		Find(&assessments).Error; err != nil {
		return nil, 0, err
	}
	return assessments, total, nil
}

func (r *assessmentRepository) UpdateStatus(ctx context.Context, id uint, status models.AssessmentStatus, publishedAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if publishedAt != nil {
		updates["published_at"] = *publishedAt
	}
	result := r.db.WithContext(ctx).Model(&models.Assessment{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *assessmentRepository) Questions(ctx context.Context, assessmentID uint) ([]models.Question, error) {
	var questions []models.Question
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("position ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}
