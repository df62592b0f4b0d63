package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-assessment-api/internal/middleware"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/repository"
)

// ErrCourseAccessDenied indicates the actor has no role in the course that permits the action.
var ErrCourseAccessDenied = errors.New("not permitted for this course")

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   uint
	Role string
}

// IsAdmin reports whether the token carries the platform admin role.
func (a Actor) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), middleware.RoleAdmin)
}

// CourseAccess answers course-scoped authorization questions.
type CourseAccess interface {
	IsStaff(ctx context.Context, actor Actor, courseID uint) (bool, error)
	IsMember(ctx context.Context, actor Actor, courseID uint) (bool, error)
	ListStudents(ctx context.Context, courseID uint) ([]uint, error)
	ListStaff(ctx context.Context, courseID uint) ([]uint, error)
}

type courseAccess struct {
	members repository.CourseMemberRepository
}

// NewCourseAccess constructs the course authorization collaborator.
func NewCourseAccess(members repository.CourseMemberRepository) CourseAccess {
	return &courseAccess{members: members}
}

// IsStaff is true for admins and for teachers or assistants of the course.
func (a *courseAccess) IsStaff(ctx context.Context, actor Actor, courseID uint) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	member, found, err := a.find(ctx, actor.ID, courseID)
	if err != nil || !found {
		return false, err
	}
	return member.IsStaff(), nil
}

// IsMember is true for admins and for anyone enrolled in the course.
func (a *courseAccess) IsMember(ctx context.Context, actor Actor, courseID uint) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	_, found, err := a.find(ctx, actor.ID, courseID)
	return found, err
}

func (a *courseAccess) ListStudents(ctx context.Context, courseID uint) ([]uint, error) {
	return a.listUsers(ctx, courseID, models.CourseRoleStudent)
}

func (a *courseAccess) ListStaff(ctx context.Context, courseID uint) ([]uint, error) {
	return a.listUsers(ctx, courseID, models.CourseRoleTeacher, models.CourseRoleAssistant)
}

func (a *courseAccess) listUsers(ctx context.Context, courseID uint, roles ...string) ([]uint, error) {
	ids := make([]uint, 0)
	for _, role := range roles {
		members, err := a.members.ListByRole(ctx, courseID, role)
		if err != nil {
			return nil, fmt.Errorf("list course %ss: %w", role, err)
		}
		for _, member := range members {
			ids = append(ids, member.UserID)
		}
	}
	return ids, nil
}

func (a *courseAccess) find(ctx context.Context, userID, courseID uint) (models.CourseMember, bool, error) {
	if userID == 0 {
		return models.CourseMember{}, false, nil
	}
	member, err := a.members.Find(ctx, courseID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CourseMember{}, false, nil
	}
	if err != nil {
		return models.CourseMember{}, false, fmt.Errorf("lookup course membership: %w", err)
	}
	return member, true, nil
}

// requireStaff returns ErrCourseAccessDenied unless the actor is course staff.
func requireStaff(ctx context.Context, access CourseAccess, actor Actor, courseID uint) error {
	staff, err := access.IsStaff(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if !staff {
		return ErrCourseAccessDenied
	}
	return nil
}
