package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/app/models/dto"
	"github.com/demir/mentora/internal/pkg/apperrors"
	"github.com/demir/mentora/internal/pkg/metrics"
	"github.com/demir/mentora/internal/pkg/realtime"
)

// attachmentSubdir is the storage subdirectory for chat attachments.
const attachmentSubdir = "chat"

// ChatService defines the interface for chat operations
type ChatService interface {
	// GetOrCreateThread returns the requester's thread with the course's
	// mentor, creating it on first contact.
	GetOrCreateThread(ctx context.Context, requesterID, courseID int64) (*models.ChatThread, error)

	// SendMessage appends a message to a thread and fans the realtime events
	// out. Image and file kinds require an attachment; an upload error aborts
	// the send before anything is persisted.
	SendMessage(ctx context.Context, senderID, threadID int64, req *dto.SendMessageRequest, attachment *multipart.FileHeader) (*models.ChatMessage, error)

	// FetchMessages returns the full ordered log of a thread.
	FetchMessages(ctx context.Context, requesterID, threadID int64) ([]*models.ChatMessage, error)

	// MarkRead flips every message from the other participant to read and
	// reports how many rows changed. Idempotent.
	MarkRead(ctx context.Context, requesterID, threadID int64) (int64, error)

	// ListThreads returns the requester's thread overviews, most recent
	// activity first, optionally restricted to one course.
	ListThreads(ctx context.Context, requesterID int64, role models.RoleType, courseID *int64) ([]*models.ThreadOverview, error)

	// MarkDeliveredForUser runs the delivered sweep for a user who just came
	// online. Implements the gateway's chat hook.
	MarkDeliveredForUser(ctx context.Context, userID int64)

	// CanAccessThread reports whether the user participates in the thread.
	// Implements the gateway's chat hook.
	CanAccessThread(ctx context.Context, threadID, userID int64) (bool, error)
}

// chatServiceImpl implements ChatService
type chatServiceImpl struct {
	threads     ThreadStore
	messages    MessageStore
	enrollments EnrollmentFacts
	users       UserDirectory
	presence    PresenceChecker
	broadcaster Broadcaster
	storage     AttachmentStorage
	logger      zerolog.Logger
}

// NewChatService creates a new ChatService
func NewChatService(
	threads ThreadStore,
	messages MessageStore,
	enrollments EnrollmentFacts,
	users UserDirectory,
	presence PresenceChecker,
	broadcaster Broadcaster,
	storage AttachmentStorage,
	logger zerolog.Logger,
) ChatService {
	return &chatServiceImpl{
		threads:     threads,
		messages:    messages,
		enrollments: enrollments,
		users:       users,
		presence:    presence,
		broadcaster: broadcaster,
		storage:     storage,
		logger:      logger,
	}
}

// GetOrCreateThread resolves the course's mentor and returns the requester's
// thread with them. Only enrolled students can open a thread; the mentor's
// side appears in their list once the thread exists.
func (s *chatServiceImpl) GetOrCreateThread(ctx context.Context, requesterID, courseID int64) (*models.ChatThread, error) {
	course, err := s.enrollments.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.enrollments.IsEnrolled(ctx, requesterID, courseID)
	if err != nil {
		return nil, fmt.Errorf("error checking enrollment: %w", err)
	}
	if !enrolled {
		return nil, apperrors.ErrNotEnrolled
	}

	thread, err := s.threads.GetOrCreate(ctx, courseID, requesterID, course.MentorID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("courseID", courseID).
			Int64("studentID", requesterID).
			Msg("Failed to get or create chat thread")
		return nil, err
	}

	thread.Course = course
	return thread, nil
}

// SendMessage validates, stores and broadcasts a message.
func (s *chatServiceImpl) SendMessage(ctx context.Context, senderID, threadID int64, req *dto.SendMessageRequest, attachment *multipart.FileHeader) (*models.ChatMessage, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsParticipant(senderID) {
		return nil, apperrors.ErrNotParticipant
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		// Attachment-only sends are rejected too: every message carries
		// fallback text.
		return nil, apperrors.ErrEmptyContent
	}

	kind := models.MessageKind(req.Kind)
	if !kind.Valid() {
		return nil, apperrors.ErrInvalidKind
	}
	if kind != models.MessageKindText && attachment == nil {
		return nil, apperrors.NewBadRequestError("image and file messages require an attachment")
	}

	message := &models.ChatMessage{
		ThreadID: threadID,
		SenderID: senderID,
		Kind:     kind,
		Content:  content,
		Status:   models.MessageStatusSent,
	}

	// Upload before append so a storage failure persists nothing.
	if kind != models.MessageKindText {
		stored, err := s.storage.SaveFileWithPath(attachment, attachmentSubdir)
		if err != nil {
			s.logger.Error().Err(err).
				Int64("threadID", threadID).
				Int64("senderID", senderID).
				Msg("Attachment upload failed")
			return nil, apperrors.NewStorageUnavailableError("failed to store attachment")
		}
		message.AttachmentURL = &stored.URL
		message.AttachmentName = &stored.Name
		message.AttachmentSize = &stored.Size
		message.AttachmentMime = &stored.MimeType
	}

	recipientID := thread.OtherParticipant(senderID)
	if s.presence.IsOnline(recipientID) {
		message.Status = models.MessageStatusDelivered
	}

	if err := s.messages.Append(ctx, message); err != nil {
		// The upload already happened; remove the orphaned file so a retry
		// does not leak storage.
		if message.AttachmentURL != nil {
			if delErr := s.storage.DeleteFile(*message.AttachmentURL); delErr != nil {
				s.logger.Error().Err(delErr).
					Str("url", *message.AttachmentURL).
					Msg("Failed to clean up attachment after append failure")
			}
		}
		return nil, err
	}

	if sender, err := s.users.FindByID(ctx, senderID); err == nil {
		message.Sender = sender
	}

	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()

	response := dto.ToChatMessageResponse(message)
	s.broadcaster.BroadcastToThread(threadID, realtime.EventReceiveMessage, response)
	s.broadcaster.BroadcastToUser(recipientID, realtime.EventIncomingMessage, response)

	if message.Status == models.MessageStatusDelivered {
		delivered := realtime.MessagesDeliveredPayload{
			ThreadID:    threadID,
			RecipientID: recipientID,
			Count:       1,
		}
		s.broadcaster.BroadcastToThread(threadID, realtime.EventMessagesDelivered, delivered)
		s.broadcaster.BroadcastToUser(senderID, realtime.EventMessagesDelivered, delivered)
	}

	return message, nil
}

// FetchMessages returns the thread's ordered log. Reading never mutates
// delivery state; that is what MarkRead is for.
func (s *chatServiceImpl) FetchMessages(ctx context.Context, requesterID, threadID int64) ([]*models.ChatMessage, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.IsParticipant(requesterID) {
		return nil, apperrors.ErrNotParticipant
	}

	return s.messages.ListByThread(ctx, threadID)
}

// MarkRead performs the bulk read transition and announces it to the thread
// room when anything actually changed.
func (s *chatServiceImpl) MarkRead(ctx context.Context, requesterID, threadID int64) (int64, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if !thread.IsParticipant(requesterID) {
		return 0, apperrors.ErrNotParticipant
	}

	readAt := time.Now()
	count, err := s.messages.MarkRead(ctx, threadID, requesterID, readAt)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.broadcaster.BroadcastToThread(threadID, realtime.EventMessagesRead, realtime.MessagesReadPayload{
			ThreadID: threadID,
			ReadBy:   requesterID,
			Count:    count,
			ReadAt:   readAt,
		})
	}

	return count, nil
}

// ListThreads returns the requester's conversation list.
func (s *chatServiceImpl) ListThreads(ctx context.Context, requesterID int64, role models.RoleType, courseID *int64) ([]*models.ThreadOverview, error) {
	overviews, err := s.threads.Overviews(ctx, requesterID, role, courseID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("userID", requesterID).
			Msg("Failed to list chat threads")
		return nil, err
	}
	return overviews, nil
}

// MarkDeliveredForUser sweeps every thread holding "sent" messages addressed
// to the user. Each thread is one independent store update; a failing thread
// is logged and skipped so the rest of the sweep still runs.
func (s *chatServiceImpl) MarkDeliveredForUser(ctx context.Context, userID int64) {
	pending, err := s.messages.PendingDeliveries(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("userID", userID).
			Msg("Failed to list pending deliveries")
		return
	}

	for _, p := range pending {
		count, err := s.messages.MarkDelivered(ctx, p.ThreadID, userID)
		if err != nil {
			s.logger.Error().Err(err).
				Int64("threadID", p.ThreadID).
				Int64("userID", userID).
				Msg("Delivered sweep failed for thread")
			continue
		}
		if count == 0 {
			continue
		}

		delivered := realtime.MessagesDeliveredPayload{
			ThreadID:    p.ThreadID,
			RecipientID: userID,
			Count:       count,
		}
		s.broadcaster.BroadcastToThread(p.ThreadID, realtime.EventMessagesDelivered, delivered)
		s.broadcaster.BroadcastToUser(p.SenderID, realtime.EventMessagesDelivered, delivered)
	}
}

// CanAccessThread reports thread membership for the gateway's join checks.
func (s *chatServiceImpl) CanAccessThread(ctx context.Context, threadID, userID int64) (bool, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, apperrors.ErrThreadNotFound) {
			return false, nil
		}
		return false, err
	}
	return thread.IsParticipant(userID), nil
}
