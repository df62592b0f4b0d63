package dto

import (
	"time"

	"github.com/noah-isme/gema-assessment-api/internal/gradebook"
	"github.com/noah-isme/gema-assessment-api/internal/models"
)

// WeightInput is one category weight expressed as a percentage.
type WeightInput struct {
	Category string  `json:"category" validate:"required,max=64"`
	Percent  float64 `json:"percent" validate:"gte=0,lte=100"`
}

// WeightsRequest replaces a course's category weights. An empty list
// switches the course to unweighted aggregation.
type WeightsRequest struct {
	Weights []WeightInput `json:"weights" validate:"max=50,dive"`
}

// Inputs converts the request for gradebook validation.
func (r WeightsRequest) Inputs() []gradebook.WeightInput {
	inputs := make([]gradebook.WeightInput, 0, len(r.Weights))
	for _, weight := range r.Weights {
		inputs = append(inputs, gradebook.WeightInput{Category: weight.Category, Percent: weight.Percent})
	}
	return inputs
}

// WeightResponse is a stored category weight as a percentage.
type WeightResponse struct {
	Category string  `json:"category"`
	Percent  float64 `json:"percent"`
}

// NewWeightResponses converts stored fractions into percentages.
func NewWeightResponses(weights []models.CategoryWeight) []WeightResponse {
	out := make([]WeightResponse, 0, len(weights))
	for _, weight := range weights {
		out = append(out, WeightResponse{Category: weight.Category, Percent: weight.Weight * 100})
	}
	return out
}

// ExternalGradeRequest records an externally graded item, such as an assignment.
type ExternalGradeRequest struct {
	StudentID      uint     `json:"student_id" validate:"required"`
	SourceID       uint     `json:"source_id" validate:"required"`
	Title          string   `json:"title" validate:"max=255"`
	Category       string   `json:"category" validate:"required,max=64"`
	PointsPossible float64  `json:"points_possible" validate:"gte=0"`
	Score          *float64 `json:"score" validate:"omitempty,gte=0"`
	Released       bool     `json:"released"`
}

// GradedItemResponse is one gradebook row.
type GradedItemResponse struct {
	ID             uint       `json:"id"`
	StudentID      uint       `json:"student_id"`
	SourceType     string     `json:"source_type"`
	SourceID       uint       `json:"source_id"`
	Title          string     `json:"title"`
	Category       string     `json:"category"`
	PointsPossible float64    `json:"points_possible"`
	Score          *float64   `json:"score"`
	Released       bool       `json:"released"`
	GradedAt       *time.Time `json:"graded_at,omitempty"`
}

// NewGradedItemResponse converts a gradebook row. Unreleased scores are
// withheld unless the caller is staff.
func NewGradedItemResponse(item models.GradedItem, staff bool) GradedItemResponse {
	response := GradedItemResponse{
		ID:             item.ID,
		StudentID:      item.StudentID,
		SourceType:     string(item.SourceType),
		SourceID:       item.SourceID,
		Title:          item.Title,
		Category:       item.Category,
		PointsPossible: item.PointsPossible,
		Released:       item.Released,
		GradedAt:       item.GradedAt,
	}
	if staff || item.Released {
		response.Score = item.Score
	}
	return response
}

// GradebookResponse is one student's aggregated course grade.
type GradebookResponse struct {
	CourseID       uint                        `json:"course_id"`
	StudentID      uint                        `json:"student_id"`
	OverallPercent *float64                    `json:"overall_percent"`
	Weighted       bool                        `json:"weighted"`
	Policy         string                      `json:"policy,omitempty"`
	ByCategory     map[string]float64          `json:"by_category"`
	Categories     []gradebook.CategorySummary `json:"categories"`
	Items          []GradedItemResponse        `json:"items"`
}

// NewGradebookResponse combines a summary with the rows it was derived from.
func NewGradebookResponse(courseID, studentID uint, summary gradebook.Summary, items []models.GradedItem, staff bool) GradebookResponse {
	response := GradebookResponse{
		CourseID:       courseID,
		StudentID:      studentID,
		OverallPercent: summary.OverallPercent,
		Weighted:       summary.Weighted,
		Policy:         string(summary.Policy),
		ByCategory:     summary.ByCategory,
		Categories:     summary.Categories,
		Items:          make([]GradedItemResponse, 0, len(items)),
	}
	for _, item := range items {
		response.Items = append(response.Items, NewGradedItemResponse(item, staff))
	}
	return response
}
