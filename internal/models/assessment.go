package models

import "time"

// AssessmentStatus describes the authoring lifecycle of an assessment.
type AssessmentStatus string

const (
	// AssessmentStatusDraft is editable and hidden from students.
	AssessmentStatusDraft AssessmentStatus = "draft"
	// AssessmentStatusPublished accepts new attempts.
	AssessmentStatusPublished AssessmentStatus = "published"
	// AssessmentStatusClosed no longer accepts attempts.
	AssessmentStatusClosed AssessmentStatus = "closed"
)

// DefaultAssessmentCategory is the gradebook category used when none is supplied.
const DefaultAssessmentCategory = "quizzes"

// Assessment is an instructor-authored quiz composed of an ordered question bank.
type Assessment struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	CourseID         uint             `gorm:"not null;index" json:"course_id"`
	Title            string           `gorm:"size:255;not null" json:"title"`
	Description      string           `gorm:"type:text" json:"description"`
	Category         string           `gorm:"size:64;not null" json:"category"`
	Status           AssessmentStatus `gorm:"size:16;not null;index" json:"status"`
	DueAt            time.Time        `gorm:"not null" json:"due_at"`
	TimeLimitMinutes int              `gorm:"not null;default:0" json:"time_limit_minutes"`
	AttemptsAllowed  *int             `json:"attempts_allowed"`
	RandomizeOrder   bool             `gorm:"not null;default:false" json:"randomize_order"`
	PoolEnabled      bool             `gorm:"not null;default:false" json:"pool_enabled"`
	PoolSize         int              `gorm:"not null;default:0" json:"pool_size"`
	CreatedBy        uint             `gorm:"not null" json:"created_by"`
	PublishedAt      *time.Time       `json:"published_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Questions        []Question       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
}

// IsPastDue reports whether new attempts are no longer allowed at reference time.
func (a Assessment) IsPastDue(reference time.Time) bool {
	return !reference.Before(a.DueAt)
}

// IsPublished reports whether the assessment currently accepts attempts.
func (a Assessment) IsPublished() bool {
	return a.Status == AssessmentStatusPublished
}

// TimeLimit returns the per-attempt time limit, zero meaning unlimited.
func (a Assessment) TimeLimit() time.Duration {
	if a.TimeLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(a.TimeLimitMinutes) * 60 * time.Second
}

// AttemptLimitReached reports whether used attempts exhaust the allowance.
func (a Assessment) AttemptLimitReached(used int64) bool {
	if a.AttemptsAllowed == nil {
		return false
	}
	return used >= int64(*a.AttemptsAllowed)
}

// GradebookCategory returns the category the assessment rolls up into.
func (a Assessment) GradebookCategory() string {
	if a.Category == "" {
		return DefaultAssessmentCategory
	}
	return a.Category
}

// Validate checks definition-time invariants of the assessment and its bank.
func (a Assessment) Validate() error {
	verr := &ValidationError{}

	if a.Title == "" {
		verr.Add("title", "is required")
	}
	if a.TimeLimitMinutes < 0 {
		verr.Add("time_limit_minutes", "must not be negative")
	}
	if a.AttemptsAllowed != nil && *a.AttemptsAllowed < 1 {
		verr.Add("attempts_allowed", "must be at least 1 when set")
	}
	if len(a.Questions) == 0 {
		verr.Add("questions", "at least one question is required")
	}

	for i, question := range a.Questions {
		question.collectErrors(verr, questionField(i))
	}

	return verr.OrNil()
}
