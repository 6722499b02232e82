package dto

import (
	"time"

	"github.com/demir/mentora/internal/app/models"
)

// --- Request DTOs ---

// SendMessageRequest represents data for sending a chat message. For image
// and file kinds the binary travels as a multipart "attachment" part; the
// content field must still carry fallback text.
type SendMessageRequest struct {
	Kind    string `json:"kind" form:"kind" binding:"required,oneof=text image file"`
	Content string `json:"content" form:"content" binding:"required"`
}

// --- Response DTOs ---

// UserBasicResponse is the public identity of a chat participant
type UserBasicResponse struct {
	ID        int64   `json:"id"`
	FullName  string  `json:"fullName"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// ThreadResponse represents a chat thread
type ThreadResponse struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"courseId"`
	StudentID int64     `json:"studentId"`
	MentorID  int64     `json:"mentorId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMessageResponse represents a message with its delivery state
type ChatMessageResponse struct {
	ID             int64      `json:"id"`
	ThreadID       int64      `json:"threadId"`
	SenderID       int64      `json:"senderId"`
	Kind           string     `json:"kind"`
	Content        string     `json:"content"`
	AttachmentURL  *string    `json:"attachmentUrl,omitempty"`
	AttachmentName *string    `json:"attachmentName,omitempty"`
	AttachmentSize *int64     `json:"attachmentSize,omitempty"`
	AttachmentMime *string    `json:"attachmentMime,omitempty"`
	Status         string     `json:"status"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`

	// Sender information when loaded
	SenderName string `json:"senderName,omitempty"`
}

// MarkReadResponse reports how many messages a read receipt affected
type MarkReadResponse struct {
	Count int64 `json:"count"`
}

// ThreadOverviewResponse annotates a thread for the conversation list
type ThreadOverviewResponse struct {
	Thread           ThreadResponse       `json:"thread"`
	OtherParticipant *UserBasicResponse   `json:"otherParticipant,omitempty"`
	LastMessage      *ChatMessageResponse `json:"lastMessage"`
	MessageCount     int64                `json:"messageCount"`
	UnreadCount      int64                `json:"unreadCount"`
}

// CourseThreadsResponse groups thread overviews under their course
type CourseThreadsResponse struct {
	CourseID    int64                    `json:"courseId"`
	CourseTitle string                   `json:"courseTitle"`
	Threads     []ThreadOverviewResponse `json:"threads"`
}

// --- Converters ---

// ToThreadResponse transforms a models.ChatThread to ThreadResponse
func ToThreadResponse(thread *models.ChatThread) ThreadResponse {
	return ThreadResponse{
		ID:        thread.ID,
		CourseID:  thread.CourseID,
		StudentID: thread.StudentID,
		MentorID:  thread.MentorID,
		CreatedAt: thread.CreatedAt,
		UpdatedAt: thread.UpdatedAt,
	}
}

// ToChatMessageResponse transforms a models.ChatMessage to ChatMessageResponse
func ToChatMessageResponse(message *models.ChatMessage) ChatMessageResponse {
	response := ChatMessageResponse{
		ID:             message.ID,
		ThreadID:       message.ThreadID,
		SenderID:       message.SenderID,
		Kind:           string(message.Kind),
		Content:        message.Content,
		AttachmentURL:  message.AttachmentURL,
		AttachmentName: message.AttachmentName,
		AttachmentSize: message.AttachmentSize,
		AttachmentMime: message.AttachmentMime,
		Status:         string(message.Status),
		ReadAt:         message.ReadAt,
		CreatedAt:      message.CreatedAt,
	}

	if message.Sender != nil {
		response.SenderName = message.Sender.FullName
	}

	return response
}

// ToUserBasicResponse transforms a models.User to UserBasicResponse
func ToUserBasicResponse(user *models.User) UserBasicResponse {
	return UserBasicResponse{
		ID:        user.ID,
		FullName:  user.FullName,
		Email:     user.Email,
		Role:      string(user.RoleType),
		AvatarURL: user.AvatarURL,
	}
}

// ToThreadOverviewResponse transforms a models.ThreadOverview
func ToThreadOverviewResponse(overview *models.ThreadOverview) ThreadOverviewResponse {
	response := ThreadOverviewResponse{
		Thread:       ToThreadResponse(&overview.Thread),
		MessageCount: overview.MessageCount,
		UnreadCount:  overview.UnreadCount,
	}

	if overview.OtherParticipant != nil {
		participant := ToUserBasicResponse(overview.OtherParticipant)
		response.OtherParticipant = &participant
	}

	if overview.LastMessage != nil {
		last := ToChatMessageResponse(overview.LastMessage)
		response.LastMessage = &last
	}

	return response
}
