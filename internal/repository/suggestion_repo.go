package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// SuggestionRepository stores drafts proposed by the content assistant.
type SuggestionRepository interface {
	Create(ctx context.Context, draft *models.SuggestionDraft) error
	FindByID(ctx context.Context, id uint) (models.SuggestionDraft, error)
	Resolve(ctx context.Context, draft *models.SuggestionDraft) error
	ListByCourse(ctx context.Context, courseID uint, status models.SuggestionStatus) ([]models.SuggestionDraft, error)
}

type suggestionRepository struct {
	db *gorm.DB
}

// NewSuggestionRepository constructs the suggestion repository.
func NewSuggestionRepository(db *gorm.DB) SuggestionRepository {
	return &suggestionRepository{db: db}
}

func (r *suggestionRepository) Create(ctx context.Context, draft *models.SuggestionDraft) error {
	return r.db.WithContext(ctx).Create(draft).Error
}

func (r *suggestionRepository) FindByID(ctx context.Context, id uint) (models.SuggestionDraft, error) {
	var draft models.SuggestionDraft
	if err := r.db.WithContext(ctx).First(&draft, id).Error; err != nil {
		return models.SuggestionDraft{}, err
	}
	return draft, nil
}

// Resolve stores the decision on a draft that is still pending. It returns
// gorm.ErrRecordNotFound when the draft was already resolved.
func (r *suggestionRepository) Resolve(ctx context.Context, draft *models.SuggestionDraft) error {
	result := r.db.WithContext(ctx).
		Model(&models.SuggestionDraft{ID: draft.ID}).
		Where("status = ?", models.SuggestionStatusPending).
		Select("Status", "ResolvedBy", "ResolvedAt", "ResultID", "UpdatedAt").
		Updates(draft)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *suggestionRepository) ListByCourse(ctx context.Context, courseID uint, status models.SuggestionStatus) ([]models.SuggestionDraft, error) {
	query := r.db.WithContext(ctx).Where("course_id = ?", courseID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var drafts []models.SuggestionDraft
	if err := query.Order("created_at DESC").Find(&drafts).Error; err != nil {
		return nil, err
	}
	return drafts, nil
}
