package models

import "time"

// CategoryWeight is the fractional contribution of a grading category to a course grade.
type CategoryWeight struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_course_category" json:"course_id"`
	Category  string    `gorm:"size:64;not null;uniqueIndex:idx_course_category" json:"category"`
	Weight    float64   `gorm:"not null" json:"weight"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GradedItemSource identifies which kind of graded work produced an item.
type GradedItemSource string

const (
	GradedItemSourceAssessment GradedItemSource = "assessment"
	GradedItemSourceAssignment GradedItemSource = "assignment"
)

// GradedItem is a scored piece of work as seen by the gradebook. Rows are
// replaced, never duplicated, for a given (source, student).
type GradedItem struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	CourseID       uint             `gorm:"not null;index" json:"course_id"`
	StudentID      uint             `gorm:"not null;uniqueIndex:idx_graded_item_source" json:"student_id"`
	SourceType     GradedItemSource `gorm:"size:32;not null;uniqueIndex:idx_graded_item_source" json:"source_type"`
	SourceID       uint             `gorm:"not null;uniqueIndex:idx_graded_item_source" json:"source_id"`
	Title          string           `gorm:"size:255" json:"title"`
	Category       string           `gorm:"size:64;not null" json:"category"`
	PointsPossible float64          `gorm:"not null" json:"points_possible"`
	Score          *float64         `json:"score"`
	Released       bool             `gorm:"not null;default:false" json:"released"`
	GradedBy       *uint            `json:"graded_by"`
	GradedAt       *time.Time       `json:"graded_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Participates reports whether the item counts toward aggregation.
func (g GradedItem) Participates() bool {
	return g.Released && g.Score != nil
}
