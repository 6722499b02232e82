package models

import "time"

// MessageKind represents the kind of chat message
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// Valid reports whether the kind is one of the supported message kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	}
	return false
}

// MessageStatus represents the delivery state of a message.
// Transitions are monotonic: sent -> delivered -> read, never backwards.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// ChatThread is a single student-mentor conversation scoped to one course.
// At most one thread exists per (course, student, mentor) triple; the
// uniqueness is enforced by a database constraint, not application logic.
type ChatThread struct {
	ID        int64     `json:"id" db:"id"`
	CourseID  int64     `json:"courseId" db:"course_id"`
	StudentID int64     `json:"studentId" db:"student_id"`
	MentorID  int64     `json:"mentorId" db:"mentor_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Related entities
	Student *User   `json:"student,omitempty"`
	Mentor  *User   `json:"mentor,omitempty"`
	Course  *Course `json:"course,omitempty"`
}

// IsParticipant reports whether the user is one of the thread's two participants.
func (t *ChatThread) IsParticipant(userID int64) bool {
	return t.StudentID == userID || t.MentorID == userID
}

// OtherParticipant returns the participant that is not the given user.
func (t *ChatThread) OtherParticipant(userID int64) int64 {
	if t.StudentID == userID {
		return t.MentorID
	}
	return t.StudentID
}

// ChatMessage represents a message inside a thread. Messages are owned by
// their thread and totally ordered by (created_at, id).
//
// EditedAt and Deleted are reserved for future edit/delete support: they are
// stored and returned but never mutated by any exposed operation.
type ChatMessage struct {
	ID             int64         `json:"id" db:"id"`
	ThreadID       int64         `json:"threadId" db:"thread_id"`
	SenderID       int64         `json:"senderId" db:"sender_id"`
	Kind           MessageKind   `json:"kind" db:"kind"`
	Content        string        `json:"content" db:"content"`
	AttachmentURL  *string       `json:"attachmentUrl,omitempty" db:"attachment_url"`
	AttachmentName *string       `json:"attachmentName,omitempty" db:"attachment_name"`
	AttachmentSize *int64        `json:"attachmentSize,omitempty" db:"attachment_size"`
	AttachmentMime *string       `json:"attachmentMime,omitempty" db:"attachment_mime"`
	Status         MessageStatus `json:"status" db:"status"`
	ReadAt         *time.Time    `json:"readAt,omitempty" db:"read_at"`
	EditedAt       *time.Time    `json:"editedAt,omitempty" db:"edited_at"`
	Deleted        bool          `json:"deleted" db:"deleted"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`

	// Related entities
	Sender *User `json:"sender,omitempty"`
}

// PendingDelivery identifies a thread holding messages still in "sent" for a
// recipient, together with the participant who authored them. Produced by the
// delivered sweep that runs when a user comes online.
type PendingDelivery struct {
	ThreadID int64
	SenderID int64
}

// ThreadOverview annotates a thread with the data the conversation list
// needs: the other participant, the last message and unread counters.
type ThreadOverview struct {
	Thread           ChatThread
	OtherParticipant *User
	LastMessage      *ChatMessage
	MessageCount     int64
	UnreadCount      int64
}
