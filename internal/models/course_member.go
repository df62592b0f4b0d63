package models

import "time"

// Course member roles.
const (
	CourseRoleStudent   = "student"
	CourseRoleTeacher   = "teacher"
	CourseRoleAssistant = "assistant"
)

// CourseMember links a user to a course with a role.
type CourseMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_course_member" json:"course_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_course_member" json:"user_id"`
	Role      string    `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsStaff reports whether the membership grants grading privileges.
func (m CourseMember) IsStaff() bool {
	return m.Role == CourseRoleTeacher || m.Role == CourseRoleAssistant
}
