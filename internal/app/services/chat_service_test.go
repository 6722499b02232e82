package services

import (
	"context"
	"errors"
	"mime/multipart"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/app/models/dto"
	"github.com/demir/mentora/internal/pkg/apperrors"
	"github.com/demir/mentora/internal/pkg/filestorage"
	"github.com/demir/mentora/internal/pkg/realtime"
)

// --- In-memory fakes ---

type fakeStore struct {
	mu        sync.Mutex
	threads   map[int64]*models.ChatThread
	messages  map[int64][]*models.ChatMessage
	nextID    int64
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		threads:  make(map[int64]*models.ChatThread),
		messages: make(map[int64][]*models.ChatMessage),
		nextID:   1,
	}
}

func (f *fakeStore) GetOrCreate(ctx context.Context, courseID, studentID, mentorID int64) (*models.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.threads {
		if t.CourseID == courseID && t.StudentID == studentID && t.MentorID == mentorID {
			return t, nil
		}
	}
	t := &models.ChatThread{
		ID:        f.nextID,
		CourseID:  courseID,
		StudentID: studentID,
		MentorID:  mentorID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.nextID++
	f.threads[t.ID] = t
	return t, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*models.ChatThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.threads[id]
	if !ok {
		return nil, apperrors.ErrThreadNotFound
	}
	return t, nil
}

func (f *fakeStore) Overviews(ctx context.Context, userID int64, role models.RoleType, courseID *int64) ([]*models.ThreadOverview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ThreadOverview
	for _, t := range f.threads {
		if t.StudentID != userID && t.MentorID != userID {
			continue
		}
		if courseID != nil && t.CourseID != *courseID {
			continue
		}
		overview := &models.ThreadOverview{Thread: *t}
		for _, m := range f.messages[t.ID] {
			overview.MessageCount++
			if m.SenderID != userID && m.Status != models.MessageStatusRead {
				overview.UnreadCount++
			}
			overview.LastMessage = m
		}
		out = append(out, overview)
	}
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, message *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	if _, ok := f.threads[message.ThreadID]; !ok {
		return apperrors.ErrThreadNotFound
	}
	message.ID = f.nextID
	f.nextID++
	message.CreatedAt = time.Now()
	f.messages[message.ThreadID] = append(f.messages[message.ThreadID], message)
	return nil
}

func (f *fakeStore) ListByThread(ctx context.Context, threadID int64) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.ChatMessage(nil), f.messages[threadID]...), nil
}

func (f *fakeStore) MarkDelivered(ctx context.Context, threadID, recipientID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.messages[threadID] {
		if m.SenderID != recipientID && m.Status == models.MessageStatusSent {
			m.Status = models.MessageStatusDelivered
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, threadID, readerID int64, readAt time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.messages[threadID] {
		if m.SenderID != readerID && m.Status != models.MessageStatusRead {
			m.Status = models.MessageStatusRead
			at := readAt
			m.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) PendingDeliveries(ctx context.Context, userID int64) ([]models.PendingDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[[2]int64]bool)
	var out []models.PendingDelivery
	for threadID, msgs := range f.messages {
		t := f.threads[threadID]
		if t == nil || (t.StudentID != userID && t.MentorID != userID) {
			continue
		}
		for _, m := range msgs {
			if m.SenderID != userID && m.Status == models.MessageStatusSent {
				key := [2]int64{threadID, m.SenderID}
				if !seen[key] {
					seen[key] = true
					out = append(out, models.PendingDelivery{ThreadID: threadID, SenderID: m.SenderID})
				}
			}
		}
	}
	return out, nil
}

type fakeEnrollments struct {
	courses  map[int64]*models.Course
	enrolled map[[2]int64]bool // (studentID, courseID)
}

func (f *fakeEnrollments) IsEnrolled(ctx context.Context, studentID, courseID int64) (bool, error) {
	return f.enrolled[[2]int64{studentID, courseID}], nil
}

func (f *fakeEnrollments) GetCourse(ctx context.Context, courseID int64) (*models.Course, error) {
	c, ok := f.courses[courseID]
	if !ok {
		return nil, apperrors.ErrCourseNotFound
	}
	return c, nil
}

type fakeUsers struct{ users map[int64]*models.User }

func (f *fakeUsers) FindByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("user not found")
	}
	return u, nil
}

type fakePresence struct{ online map[int64]bool }

func (f *fakePresence) IsOnline(userID int64) bool { return f.online[userID] }

type sentEvent struct {
	target  string // "thread" or "user"
	id      int64
	event   string
	payload interface{}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (f *fakeBroadcaster) BroadcastToThread(threadID int64, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{target: "thread", id: threadID, event: event, payload: payload})
}

func (f *fakeBroadcaster) BroadcastToUser(userID int64, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{target: "user", id: userID, event: event, payload: payload})
}

func (f *fakeBroadcaster) find(event, target string, id int64) *sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		e := &f.events[i]
		if e.event == event && e.target == target && e.id == id {
			return e
		}
	}
	return nil
}

type fakeAttachments struct {
	err     error
	deleted []string
}

func (f *fakeAttachments) SaveFileWithPath(fileHeader *multipart.FileHeader, path string) (*filestorage.StoredFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &filestorage.StoredFile{
		URL:      "uploads/chat/" + fileHeader.Filename,
		Name:     fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: "image/png",
	}, nil
}

func (f *fakeAttachments) DeleteFile(filePath string) error {
	f.deleted = append(f.deleted, filePath)
	return nil
}

// --- Fixture ---

const (
	studentID = int64(100)
	mentorID  = int64(200)
	outsider  = int64(300)
	courseID  = int64(10)
)

type fixture struct {
	store       *fakeStore
	presence    *fakePresence
	broadcaster *fakeBroadcaster
	attachments *fakeAttachments
	service     ChatService
}

func newFixture() *fixture {
	store := newFakeStore()
	presence := &fakePresence{online: make(map[int64]bool)}
	broadcaster := &fakeBroadcaster{}
	attachments := &fakeAttachments{}

	enrollments := &fakeEnrollments{
		courses: map[int64]*models.Course{
			courseID: {ID: courseID, Title: "Algorithms", MentorID: mentorID},
		},
		enrolled: map[[2]int64]bool{
			{studentID, courseID}: true,
		},
	}
	users := &fakeUsers{users: map[int64]*models.User{
		studentID: {ID: studentID, FullName: "Selin Student", Email: "selin@example.com", RoleType: models.RoleStudent},
		mentorID:  {ID: mentorID, FullName: "Murat Mentor", Email: "murat@example.com", RoleType: models.RoleMentor},
	}}

	return &fixture{
		store:       store,
		presence:    presence,
		broadcaster: broadcaster,
		attachments: attachments,
		service: NewChatService(
			store, store, enrollments, users, presence, broadcaster, attachments, zerolog.Nop(),
		),
	}
}

func textMessage(content string) *dto.SendMessageRequest {
	return &dto.SendMessageRequest{Kind: "text", Content: content}
}

// --- Tests ---

func TestGetOrCreateThreadIsIdempotent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first, err := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	if err != nil {
		t.Fatalf("GetOrCreateThread: %v", err)
	}
	if first.MentorID != mentorID {
		t.Errorf("MentorID = %d, want %d (resolved from course)", first.MentorID, mentorID)
	}

	second, err := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	if err != nil {
		t.Fatalf("GetOrCreateThread again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second call created thread %d, want existing %d", second.ID, first.ID)
	}
}

func TestGetOrCreateThreadRejectsNonEnrolled(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.GetOrCreateThread(context.Background(), outsider, courseID)
	if !errors.Is(err, apperrors.ErrNotEnrolled) {
		t.Errorf("error = %v, want ErrNotEnrolled", err)
	}
	if len(fx.store.threads) != 0 {
		t.Error("no thread must be created for a rejected request")
	}
}

func TestGetOrCreateThreadUnknownCourse(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.GetOrCreateThread(context.Background(), studentID, 999)
	if !errors.Is(err, apperrors.ErrCourseNotFound) {
		t.Errorf("error = %v, want ErrCourseNotFound", err)
	}
}

func TestSendMessageOfflineRecipientStaysSent(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	message, err := fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("hello"), nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.Status != models.MessageStatusSent {
		t.Errorf("status = %q, want sent while recipient is offline", message.Status)
	}

	if fx.broadcaster.find(realtime.EventReceiveMessage, "thread", thread.ID) == nil {
		t.Error("receive_message was not broadcast to the thread room")
	}
	if fx.broadcaster.find(realtime.EventIncomingMessage, "user", mentorID) == nil {
		t.Error("incoming_message was not sent to the recipient's personal room")
	}
	if fx.broadcaster.find(realtime.EventMessagesDelivered, "thread", thread.ID) != nil {
		t.Error("messages_delivered must not fire for an offline recipient")
	}
}

func TestSendMessageOnlineRecipientIsDelivered(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	fx.presence.online[mentorID] = true

	message, err := fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("hello"), nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.Status != models.MessageStatusDelivered {
		t.Errorf("status = %q, want delivered for an online recipient", message.Status)
	}

	if fx.broadcaster.find(realtime.EventMessagesDelivered, "thread", thread.ID) == nil {
		t.Error("messages_delivered was not broadcast to the thread room")
	}
	if fx.broadcaster.find(realtime.EventMessagesDelivered, "user", studentID) == nil {
		t.Error("messages_delivered was not sent to the sender's personal room")
	}
}

func TestSendMessageValidation(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	if _, err := fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("   "), nil); !errors.Is(err, apperrors.ErrEmptyContent) {
		t.Errorf("blank content error = %v, want ErrEmptyContent", err)
	}

	req := &dto.SendMessageRequest{Kind: "video", Content: "x"}
	if _, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, nil); !errors.Is(err, apperrors.ErrInvalidKind) {
		t.Errorf("unknown kind error = %v, want ErrInvalidKind", err)
	}

	// Image without content: fallback text is the caller's job.
	req = &dto.SendMessageRequest{Kind: "image", Content: ""}
	if _, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, nil); !errors.Is(err, apperrors.ErrEmptyContent) {
		t.Errorf("attachment-only error = %v, want ErrEmptyContent", err)
	}

	// Image with content but no attachment part.
	req = &dto.SendMessageRequest{Kind: "image", Content: "Sent an attachment"}
	if _, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, nil); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Errorf("missing attachment error = %v, want ErrBadRequest", err)
	}

	if got, _ := fx.store.ListByThread(ctx, thread.ID); len(got) != 0 {
		t.Errorf("rejected sends persisted %d messages, want 0", len(got))
	}
}

func TestSendMessageAttachmentFailureAbortsBeforeAppend(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	fx.attachments.err = errors.New("disk full")

	req := &dto.SendMessageRequest{Kind: "image", Content: "Sent an attachment"}
	attachment := &multipart.FileHeader{Filename: "photo.png", Size: 1024}

	_, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, attachment)
	if !errors.Is(err, apperrors.ErrStorageUnavailable) {
		t.Errorf("error = %v, want ErrStorageUnavailable", err)
	}
	if got, _ := fx.store.ListByThread(ctx, thread.ID); len(got) != 0 {
		t.Error("nothing must be persisted when the upload fails")
	}
}

func TestSendMessageAppendFailureCleansUpAttachment(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	fx.store.appendErr = errors.New("connection reset")

	req := &dto.SendMessageRequest{Kind: "image", Content: "Sent an attachment"}
	attachment := &multipart.FileHeader{Filename: "photo.png", Size: 1024}

	_, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, attachment)
	if err == nil {
		t.Fatal("expected append error to propagate")
	}
	if len(fx.attachments.deleted) != 1 || fx.attachments.deleted[0] != "uploads/chat/photo.png" {
		t.Errorf("deleted = %v, want the orphaned upload removed", fx.attachments.deleted)
	}
	if len(fx.broadcaster.events) != 0 {
		t.Errorf("no events must be broadcast when the append fails, got %d", len(fx.broadcaster.events))
	}
}

func TestSendMessageWithAttachment(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	req := &dto.SendMessageRequest{Kind: "image", Content: "Sent an attachment"}
	attachment := &multipart.FileHeader{Filename: "photo.png", Size: 1024}

	message, err := fx.service.SendMessage(ctx, studentID, thread.ID, req, attachment)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.AttachmentURL == nil || *message.AttachmentURL != "uploads/chat/photo.png" {
		t.Errorf("AttachmentURL = %v, want uploads/chat/photo.png", message.AttachmentURL)
	}
	if message.AttachmentSize == nil || *message.AttachmentSize != 1024 {
		t.Errorf("AttachmentSize = %v, want 1024", message.AttachmentSize)
	}
}

func TestNonParticipantIsRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	if _, err := fx.service.SendMessage(ctx, outsider, thread.ID, textMessage("hi"), nil); !errors.Is(err, apperrors.ErrNotParticipant) {
		t.Errorf("SendMessage error = %v, want ErrNotParticipant", err)
	}
	if _, err := fx.service.FetchMessages(ctx, outsider, thread.ID); !errors.Is(err, apperrors.ErrNotParticipant) {
		t.Errorf("FetchMessages error = %v, want ErrNotParticipant", err)
	}
	if _, err := fx.service.MarkRead(ctx, outsider, thread.ID); !errors.Is(err, apperrors.ErrNotParticipant) {
		t.Errorf("MarkRead error = %v, want ErrNotParticipant", err)
	}
}

// Scenario A: offline mentor, message stays "sent"; when the mentor comes
// online the sweep flips it to "delivered" and both sides are notified.
func TestDeliveredSweepOnRegistration(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	message, err := fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("hello"), nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.Status != models.MessageStatusSent {
		t.Fatalf("status = %q, want sent", message.Status)
	}

	fx.service.MarkDeliveredForUser(ctx, mentorID)

	stored, _ := fx.store.ListByThread(ctx, thread.ID)
	if stored[0].Status != models.MessageStatusDelivered {
		t.Errorf("status after sweep = %q, want delivered", stored[0].Status)
	}

	event := fx.broadcaster.find(realtime.EventMessagesDelivered, "user", studentID)
	if event == nil {
		t.Fatal("sender's personal room did not receive messages_delivered")
	}
	payload := event.payload.(realtime.MessagesDeliveredPayload)
	if payload.Count != 1 || payload.ThreadID != thread.ID {
		t.Errorf("payload = %+v, want count 1 for thread %d", payload, thread.ID)
	}

	// Re-running the sweep finds nothing and emits nothing new.
	before := len(fx.broadcaster.events)
	fx.service.MarkDeliveredForUser(ctx, mentorID)
	if len(fx.broadcaster.events) != before {
		t.Error("an empty sweep must not emit events")
	}
}

// Scenario B: fetch does not mutate; markRead flips to "read" once and
// announces the count, and a second markRead is a silent no-op.
func TestMarkReadLifecycle(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("hello"), nil)

	fetched, err := fx.service.FetchMessages(ctx, mentorID, thread.ID)
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if fetched[0].Status != models.MessageStatusSent {
		t.Errorf("fetch mutated status to %q", fetched[0].Status)
	}

	count, err := fx.service.MarkRead(ctx, mentorID, thread.ID)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	stored, _ := fx.store.ListByThread(ctx, thread.ID)
	if stored[0].Status != models.MessageStatusRead || stored[0].ReadAt == nil {
		t.Errorf("message = status %q readAt %v, want read with timestamp", stored[0].Status, stored[0].ReadAt)
	}

	event := fx.broadcaster.find(realtime.EventMessagesRead, "thread", thread.ID)
	if event == nil {
		t.Fatal("messages_read was not broadcast to the thread room")
	}
	payload := event.payload.(realtime.MessagesReadPayload)
	if payload.ReadBy != mentorID || payload.Count != 1 {
		t.Errorf("payload = %+v, want readBy %d count 1", payload, mentorID)
	}

	// Idempotence: nothing left to read, no further event.
	before := len(fx.broadcaster.events)
	count, err = fx.service.MarkRead(ctx, mentorID, thread.ID)
	if err != nil || count != 0 {
		t.Errorf("second MarkRead = (%d, %v), want (0, nil)", count, err)
	}
	if len(fx.broadcaster.events) != before {
		t.Error("idempotent MarkRead must not emit events")
	}
}

func TestListThreadsFiltersByParticipant(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)
	fx.service.SendMessage(ctx, studentID, thread.ID, textMessage("hello"), nil)

	mentorView, err := fx.service.ListThreads(ctx, mentorID, models.RoleMentor, nil)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(mentorView) != 1 {
		t.Fatalf("mentor sees %d threads, want 1", len(mentorView))
	}
	if mentorView[0].UnreadCount != 1 {
		t.Errorf("mentor unread = %d, want 1", mentorView[0].UnreadCount)
	}

	outsiderView, err := fx.service.ListThreads(ctx, outsider, models.RoleStudent, nil)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(outsiderView) != 0 {
		t.Errorf("outsider sees %d threads, want 0", len(outsiderView))
	}
}

func TestCanAccessThread(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	thread, _ := fx.service.GetOrCreateThread(ctx, studentID, courseID)

	for userID, want := range map[int64]bool{studentID: true, mentorID: true, outsider: false} {
		got, err := fx.service.CanAccessThread(ctx, thread.ID, userID)
		if err != nil || got != want {
			t.Errorf("CanAccessThread(%d) = (%v, %v), want (%v, nil)", userID, got, err, want)
		}
	}

	got, err := fx.service.CanAccessThread(ctx, 999, studentID)
	if err != nil || got {
		t.Errorf("unknown thread = (%v, %v), want (false, nil)", got, err)
	}
}
