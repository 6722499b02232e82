package controllers

import (
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/app/models/dto"
	"github.com/demir/mentora/internal/app/services"
	"github.com/demir/mentora/internal/middleware"
)

// ChatController handles the HTTP surface of chat threads and messages
type ChatController struct {
	chatService services.ChatService
}

// NewChatController creates a new ChatController
func NewChatController(chatService services.ChatService) *ChatController {
	return &ChatController{
		chatService: chatService,
	}
}

// GetOrCreateThread opens (or returns) the caller's thread with the mentor of
// the given course.
// POST /chats/courses/:courseId
func (c *ChatController) GetOrCreateThread(ctx *gin.Context) {
	courseID, err := strconv.ParseInt(ctx.Param("courseId"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid course ID")))
		return
	}

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	thread, err := c.chatService.GetOrCreateThread(ctx, userID, courseID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ToThreadResponse(thread)))
}

// ListThreads returns the caller's conversation list grouped by course.
// GET /chats?courseId=
func (c *ChatController) ListThreads(ctx *gin.Context) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	role := models.RoleStudent
	if roleValue, exists := ctx.Get("roleType"); exists {
		if roleStr, ok := roleValue.(string); ok && roleStr != "" {
			role = models.RoleType(roleStr)
		}
	}

	var courseID *int64
	if courseIDStr := ctx.Query("courseId"); courseIDStr != "" {
		id, err := strconv.ParseInt(courseIDStr, 10, 64)
		if err != nil || id <= 0 {
			ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
				dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid course ID")))
			return
		}
		courseID = &id
	}

	overviews, err := c.chatService.ListThreads(ctx, userID, role, courseID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(groupByCourse(overviews)))
}

// groupByCourse buckets thread overviews under their course, preserving the
// recency order within each bucket.
func groupByCourse(overviews []*models.ThreadOverview) []dto.CourseThreadsResponse {
	grouped := make([]dto.CourseThreadsResponse, 0)
	index := make(map[int64]int)

	for _, overview := range overviews {
		courseID := overview.Thread.CourseID
		position, seen := index[courseID]
		if !seen {
			title := ""
			if overview.Thread.Course != nil {
				title = overview.Thread.Course.Title
			}
			grouped = append(grouped, dto.CourseThreadsResponse{
				CourseID:    courseID,
				CourseTitle: title,
			})
			position = len(grouped) - 1
			index[courseID] = position
		}
		grouped[position].Threads = append(grouped[position].Threads, dto.ToThreadOverviewResponse(overview))
	}

	return grouped
}

// GetMessages returns the full ordered log of a thread.
// GET /chats/:threadId/messages
func (c *ChatController) GetMessages(ctx *gin.Context) {
	threadID, err := strconv.ParseInt(ctx.Param("threadId"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid thread ID")))
		return
	}

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	messages, err := c.chatService.FetchMessages(ctx, userID, threadID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	responses := make([]dto.ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		responses = append(responses, dto.ToChatMessageResponse(message))
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(responses))
}

// SendMessage appends a message to a thread. Text messages arrive as JSON;
// image and file messages arrive as multipart form data with an "attachment"
// part.
// POST /chats/:threadId/messages
func (c *ChatController) SendMessage(ctx *gin.Context) {
	threadID, err := strconv.ParseInt(ctx.Param("threadId"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid thread ID")))
		return
	}

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	var request dto.SendMessageRequest
	if err := ctx.ShouldBind(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(dto.HandleValidationError(err)))
		return
	}

	// The attachment part is optional at the binding level; the service
	// enforces kind-specific rules.
	var attachment *multipart.FileHeader
	if ctx.ContentType() == "multipart/form-data" {
		if file, err := ctx.FormFile("attachment"); err == nil {
			attachment = file
		}
	}

	message, err := c.chatService.SendMessage(ctx, userID, threadID, &request, attachment)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.NewSuccessResponse(dto.ToChatMessageResponse(message)))
}

// MarkRead applies a read receipt to every unread message from the other
// participant and reports the affected count.
// PUT /chats/:threadId/read
func (c *ChatController) MarkRead(ctx *gin.Context) {
	threadID, err := strconv.ParseInt(ctx.Param("threadId"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeInvalidRequest, "Invalid thread ID")))
		return
	}

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
		return
	}

	count, err := c.chatService.MarkRead(ctx, userID, threadID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.NewSuccessResponse(dto.MarkReadResponse{Count: count}))
}
