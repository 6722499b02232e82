package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/db"
	"github.com/demir/mentora/internal/pkg/apperrors"
	"github.com/demir/mentora/internal/pkg/dberrors"
)

// uniqueThreadConstraint is the database constraint that guarantees at most
// one thread per (course, student, mentor) triple.
const uniqueThreadConstraint = "chat_threads_course_student_mentor_key"

// ChatRepository handles database operations for chat threads and messages
type ChatRepository struct {
	db *pgxpool.Pool
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

// GetOrCreate returns the thread for the given triple, creating it when
// absent. Concurrent first-message races are resolved by the unique
// constraint: the losing insert observes no row and falls back to selecting
// the winner's thread.
func (r *ChatRepository) GetOrCreate(ctx context.Context, courseID, studentID, mentorID int64) (*models.ChatThread, error) {
	insert := `
		INSERT INTO chat_threads (course_id, student_id, mentor_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (course_id, student_id, mentor_id) DO NOTHING
		RETURNING id, course_id, student_id, mentor_id, created_at, updated_at
	`

	var thread models.ChatThread
	err := r.db.QueryRow(ctx, insert, courseID, studentID, mentorID).Scan(
		&thread.ID,
		&thread.CourseID,
		&thread.StudentID,
		&thread.MentorID,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err == nil {
		return &thread, nil
	}

	// No row returned means another caller created the thread first, or it
	// already existed; either way the existing row is the answer.
	if errors.Is(err, pgx.ErrNoRows) || dberrors.IsDuplicateConstraintError(err, uniqueThreadConstraint) {
		return r.getByTriple(ctx, courseID, studentID, mentorID)
	}

	return nil, fmt.Errorf("error creating chat thread: %w", err)
}

func (r *ChatRepository) getByTriple(ctx context.Context, courseID, studentID, mentorID int64) (*models.ChatThread, error) {
	query := `
		SELECT id, course_id, student_id, mentor_id, created_at, updated_at
		FROM chat_threads
		WHERE course_id = $1 AND student_id = $2 AND mentor_id = $3
	`

	var thread models.ChatThread
	err := r.db.QueryRow(ctx, query, courseID, studentID, mentorID).Scan(
		&thread.ID,
		&thread.CourseID,
		&thread.StudentID,
		&thread.MentorID,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrThreadNotFound
		}
		return nil, fmt.Errorf("error retrieving chat thread: %w", err)
	}

	return &thread, nil
}

// GetByID retrieves a thread by its ID
func (r *ChatRepository) GetByID(ctx context.Context, id int64) (*models.ChatThread, error) {
	query := `
		SELECT id, course_id, student_id, mentor_id, created_at, updated_at
		FROM chat_threads
		WHERE id = $1
	`

	var thread models.ChatThread
	err := r.db.QueryRow(ctx, query, id).Scan(
		&thread.ID,
		&thread.CourseID,
		&thread.StudentID,
		&thread.MentorID,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrThreadNotFound
		}
		return nil, fmt.Errorf("error retrieving chat thread: %w", err)
	}

	return &thread, nil
}

// Append inserts a new message at the end of the thread's log and stamps the
// thread's last-activity timestamp, both in one transaction so a failed
// stamp never leaves a message the caller believes was rejected. The
// generated id and created_at are written back into the message.
func (r *ChatRepository) Append(ctx context.Context, message *models.ChatMessage) error {
	insert := `
		INSERT INTO chat_messages (
			thread_id, sender_id, kind, content,
			attachment_url, attachment_name, attachment_size, attachment_mime,
			status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`

	return db.WithTransaction(ctx, r.db, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insert,
			message.ThreadID,
			message.SenderID,
			message.Kind,
			message.Content,
			message.AttachmentURL,
			message.AttachmentName,
			message.AttachmentSize,
			message.AttachmentMime,
			message.Status,
		).Scan(&message.ID, &message.CreatedAt)
		if err != nil {
			if dberrors.IsForeignKeyViolation(err) {
				return apperrors.ErrThreadNotFound
			}
			return fmt.Errorf("error creating chat message: %w", err)
		}

		// Last-activity stamp drives the conversation list ordering.
		_, err = tx.Exec(ctx, `UPDATE chat_threads SET updated_at = now() WHERE id = $1`, message.ThreadID)
		if err != nil {
			return fmt.Errorf("error touching chat thread: %w", err)
		}

		return nil
	})
}

// ListByThread retrieves the full ordered message log of a thread, oldest
// first. Ordering is by creation time with the generated id as tiebreaker,
// so repeated calls return an identical sequence.
func (r *ChatRepository) ListByThread(ctx context.Context, threadID int64) ([]*models.ChatMessage, error) {
	queryBuilder := squirrel.Select(
		"m.id", "m.thread_id", "m.sender_id", "m.kind", "m.content",
		"m.attachment_url", "m.attachment_name", "m.attachment_size", "m.attachment_mime",
		"m.status", "m.read_at", "m.edited_at", "m.deleted", "m.created_at",
		"u.id", "u.full_name", "u.email", "u.role_type",
	).
		From("chat_messages m").
		LeftJoin("users u ON m.sender_id = u.id").
		Where("m.thread_id = ?", threadID).
		OrderBy("m.created_at ASC", "m.id ASC").
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		var message models.ChatMessage
		var senderID *int64
		var senderName, senderEmail, senderRole *string

		err := rows.Scan(
			&message.ID,
			&message.ThreadID,
			&message.SenderID,
			&message.Kind,
			&message.Content,
			&message.AttachmentURL,
			&message.AttachmentName,
			&message.AttachmentSize,
			&message.AttachmentMime,
			&message.Status,
			&message.ReadAt,
			&message.EditedAt,
			&message.Deleted,
			&message.CreatedAt,
			&senderID,
			&senderName,
			&senderEmail,
			&senderRole,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat message row: %w", err)
		}

		if senderID != nil {
			sender := models.User{ID: *senderID}
			if senderName != nil {
				sender.FullName = *senderName
			}
			if senderEmail != nil {
				sender.Email = *senderEmail
			}
			if senderRole != nil {
				sender.RoleType = models.RoleType(*senderRole)
			}
			message.Sender = &sender
		}

		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat message rows: %w", err)
	}

	return messages, nil
}

// MarkDelivered transitions every "sent" message in the thread not authored
// by the recipient to "delivered". A single UPDATE keeps the transition
// atomic per thread; the predicate makes it monotonic (read stays read).
func (r *ChatRepository) MarkDelivered(ctx context.Context, threadID, recipientID int64) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE chat_messages
		SET status = $1
		WHERE thread_id = $2 AND sender_id <> $3 AND status = $4
	`, models.MessageStatusDelivered, threadID, recipientID, models.MessageStatusSent)
	if err != nil {
		return 0, fmt.Errorf("error marking messages delivered: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkRead transitions every message in the thread authored by the other
// participant and not yet read to "read", stamping read_at. Idempotent:
// already-read rows never match the predicate.
func (r *ChatRepository) MarkRead(ctx context.Context, threadID, readerID int64, readAt time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE chat_messages
		SET status = $1, read_at = $2
		WHERE thread_id = $3 AND sender_id <> $4 AND status <> $1
	`, models.MessageStatusRead, readAt, threadID, readerID)
	if err != nil {
		return 0, fmt.Errorf("error marking messages read: %w", err)
	}

	return result.RowsAffected(), nil
}

// PendingDeliveries lists the threads that hold "sent" messages addressed to
// the given user, one entry per thread with the authoring participant. Used
// by the delivered sweep on presence registration.
func (r *ChatRepository) PendingDeliveries(ctx context.Context, userID int64) ([]models.PendingDelivery, error) {
	query := `
		SELECT m.thread_id, m.sender_id
		FROM chat_messages m
		JOIN chat_threads t ON t.id = m.thread_id
		WHERE (t.student_id = $1 OR t.mentor_id = $1)
		  AND m.sender_id <> $1
		  AND m.status = $2
		GROUP BY m.thread_id, m.sender_id
	`

	rows, err := r.db.Query(ctx, query, userID, models.MessageStatusSent)
	if err != nil {
		return nil, fmt.Errorf("error querying pending deliveries: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingDelivery
	for rows.Next() {
		var p models.PendingDelivery
		if err := rows.Scan(&p.ThreadID, &p.SenderID); err != nil {
			return nil, fmt.Errorf("error scanning pending delivery row: %w", err)
		}
		pending = append(pending, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending delivery rows: %w", err)
	}

	return pending, nil
}

// Overviews retrieves every thread the user participates in, annotated with
// the other participant, the last message and unread counters, most recent
// activity first.
func (r *ChatRepository) Overviews(ctx context.Context, userID int64, role models.RoleType, courseID *int64) ([]*models.ThreadOverview, error) {
	// The user's counterpart depends on which side of the thread they sit on.
	otherJoin := "users u ON u.id = t.mentor_id"
	ownColumn := "t.student_id"
	if role == models.RoleMentor {
		otherJoin = "users u ON u.id = t.student_id"
		ownColumn = "t.mentor_id"
	}

	queryBuilder := squirrel.Select(
		"t.id", "t.course_id", "t.student_id", "t.mentor_id", "t.created_at", "t.updated_at",
		"c.title",
		"u.id", "u.email", "u.full_name", "u.role_type", "u.avatar_url",
		"stats.total", "stats.unread",
		"lm.id", "lm.sender_id", "lm.kind", "lm.content", "lm.status", "lm.read_at", "lm.created_at",
	).
		From("chat_threads t").
		Join("courses c ON c.id = t.course_id").
		Join(otherJoin).
		JoinClause(`LEFT JOIN LATERAL (
			SELECT count(*) AS total,
			       count(*) FILTER (WHERE sender_id <> ? AND status <> 'read') AS unread
			FROM chat_messages
			WHERE thread_id = t.id
		) stats ON true`, userID).
		JoinClause(`LEFT JOIN LATERAL (
			SELECT id, sender_id, kind, content, status, read_at, created_at
			FROM chat_messages
			WHERE thread_id = t.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) lm ON true`).
		Where(ownColumn+" = ?", userID).
		OrderBy("COALESCE(lm.created_at, t.created_at) DESC").
		PlaceholderFormat(squirrel.Dollar)

	if courseID != nil {
		queryBuilder = queryBuilder.Where("t.course_id = ?", *courseID)
	}

	sql, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building SQL: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("error executing query: %w", err)
	}
	defer rows.Close()

	var overviews []*models.ThreadOverview
	for rows.Next() {
		var overview models.ThreadOverview
		var courseTitle string
		var other models.User
		var lastID, lastSenderID *int64
		var lastKind, lastContent, lastStatus *string
		var lastReadAt, lastCreatedAt *time.Time

		err := rows.Scan(
			&overview.Thread.ID,
			&overview.Thread.CourseID,
			&overview.Thread.StudentID,
			&overview.Thread.MentorID,
			&overview.Thread.CreatedAt,
			&overview.Thread.UpdatedAt,
			&courseTitle,
			&other.ID,
			&other.Email,
			&other.FullName,
			&other.RoleType,
			&other.AvatarURL,
			&overview.MessageCount,
			&overview.UnreadCount,
			&lastID,
			&lastSenderID,
			&lastKind,
			&lastContent,
			&lastStatus,
			&lastReadAt,
			&lastCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning thread overview row: %w", err)
		}

		overview.Thread.Course = &models.Course{
			ID:       overview.Thread.CourseID,
			Title:    courseTitle,
			MentorID: overview.Thread.MentorID,
		}
		overview.OtherParticipant = &other

		if lastID != nil {
			last := models.ChatMessage{
				ID:        *lastID,
				ThreadID:  overview.Thread.ID,
				SenderID:  *lastSenderID,
				Kind:      models.MessageKind(*lastKind),
				Content:   *lastContent,
				Status:    models.MessageStatus(*lastStatus),
				ReadAt:    lastReadAt,
				CreatedAt: *lastCreatedAt,
			}
			overview.LastMessage = &last
		}

		overviews = append(overviews, &overview)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread overview rows: %w", err)
	}

	return overviews, nil
}
