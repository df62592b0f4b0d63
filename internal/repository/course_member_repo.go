package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// CourseMemberRepository reads and writes course enrolment.
type CourseMemberRepository interface {
	Find(ctx context.Context, courseID, userID uint) (models.CourseMember, error)
	ListByRole(ctx context.Context, courseID uint, role string) ([]models.CourseMember, error)
	Upsert(ctx context.Context, member *models.CourseMember) error
}

type courseMemberRepository struct {
	db *gorm.DB
}

// NewCourseMemberRepository constructs the membership repository.
func NewCourseMemberRepository(db *gorm.DB) CourseMemberRepository {
	return &courseMemberRepository{db: db}
}

func (r *courseMemberRepository) Find(ctx context.Context, courseID, userID uint) (models.CourseMember, error) {
	var member models.CourseMember
	if err := r.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		First(&member).Error; err != nil {
		return models.CourseMember{}, err
	}
	return member, nil
}

func (r *courseMemberRepository) ListByRole(ctx context.Context, courseID uint, role string) ([]models.CourseMember, error) {
	query := r.db.WithContext(ctx).Where("course_id = ?", courseID)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var members []models.CourseMember
	if err := query.Order("user_id ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (r *courseMemberRepository) Upsert(ctx context.Context, member *models.CourseMember) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(member).Error
}
