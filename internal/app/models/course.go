package models

import "time"

// Course is the enrollment-facts source for chat access checks. Course
// management itself (content, pricing, publishing) lives outside this service.
type Course struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	MentorID  int64     `json:"mentorId" db:"mentor_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Enrollment records that a student has paid access to a course
type Enrollment struct {
	CourseID  int64     `json:"courseId" db:"course_id"`
	StudentID int64     `json:"studentId" db:"student_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
