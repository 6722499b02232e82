package services

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/pkg/filestorage"
)

// The service depends on narrow views of its collaborators so tests can swap
// in fakes. The pgx repositories satisfy the store interfaces; the realtime
// hub satisfies Broadcaster; the presence registry satisfies PresenceChecker.

// ThreadStore persists chat threads.
type ThreadStore interface {
	GetOrCreate(ctx context.Context, courseID, studentID, mentorID int64) (*models.ChatThread, error)
	GetByID(ctx context.Context, id int64) (*models.ChatThread, error)
	Overviews(ctx context.Context, userID int64, role models.RoleType, courseID *int64) ([]*models.ThreadOverview, error)
}

// MessageStore persists chat messages and their delivery state.
type MessageStore interface {
	Append(ctx context.Context, message *models.ChatMessage) error
	ListByThread(ctx context.Context, threadID int64) ([]*models.ChatMessage, error)
	MarkDelivered(ctx context.Context, threadID, recipientID int64) (int64, error)
	MarkRead(ctx context.Context, threadID, readerID int64, readAt time.Time) (int64, error)
	PendingDeliveries(ctx context.Context, userID int64) ([]models.PendingDelivery, error)
}

// EnrollmentFacts answers the access questions owned by course management.
type EnrollmentFacts interface {
	IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error)
	GetCourse(ctx context.Context, courseID int64) (*models.Course, error)
}

// UserDirectory resolves user identities.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

// PresenceChecker reports whether a user currently has a live connection.
type PresenceChecker interface {
	IsOnline(userID int64) bool
}

// Broadcaster fans realtime events out to connected clients. Sends are
// best-effort; a failed or dropped delivery never fails the operation that
// triggered it.
type Broadcaster interface {
	BroadcastToThread(threadID int64, event string, payload interface{})
	BroadcastToUser(userID int64, event string, payload interface{})
}

// AttachmentStorage stores uploaded message attachments. DeleteFile is
// idempotent so a cleanup after a failed append can be retried safely.
type AttachmentStorage interface {
	SaveFileWithPath(fileHeader *multipart.FileHeader, path string) (*filestorage.StoredFile, error)
	DeleteFile(filePath string) error
}
