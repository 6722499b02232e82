package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/pkg/apperrors"
)

// EnrollmentRepository answers enrollment-fact queries. Course and enrollment
// lifecycle is owned by the course management service; this repository only
// reads the facts the chat service needs for access checks.
type EnrollmentRepository struct {
	db *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository
func NewEnrollmentRepository(db *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// IsEnrolled reports whether the student has an active enrollment in the course
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error) {
	var enrolled bool
	query := `SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`
	if err := r.db.QueryRow(ctx, query, studentID, courseID).Scan(&enrolled); err != nil {
		return false, fmt.Errorf("error checking enrollment: %w", err)
	}
	return enrolled, nil
}

// GetCourse retrieves a course by its ID, including the mentor who teaches it
func (r *EnrollmentRepository) GetCourse(ctx context.Context, courseID int64) (*models.Course, error) {
	query := `SELECT id, title, mentor_id, created_at FROM courses WHERE id = $1`

	var course models.Course
	err := r.db.QueryRow(ctx, query, courseID).Scan(
		&course.ID,
		&course.Title,
		&course.MentorID,
		&course.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrCourseNotFound
		}
		return nil, fmt.Errorf("error retrieving course: %w", err)
	}

	return &course, nil
}
