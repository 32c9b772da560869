package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/healthadvisor/server/internal/llm"
	"github.com/healthadvisor/server/internal/models"
)

type fakeStore struct {
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	writeCount    int
	listCalls     int
	appendErr     error
	nextID        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

func (s *fakeStore) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	s.writeCount++
	s.nextID++
	conversation := &models.Conversation{
		ID:        fmt.Sprintf("conv-%d", s.nextID),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.conversations[conversation.ID] = conversation
	return conversation, nil
}

func (s *fakeStore) GetConversationByID(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conversation, ok := s.conversations[conversationID]
	if !ok || conversation.UserID != userID {
		return nil, models.ErrConversationNotFound
	}
	return conversation, nil
}

func (s *fakeStore) ListConversations(ctx context.Context, userID string, page models.Page) (*models.ConversationPage, error) {
	items := make([]models.Conversation, 0)
	for _, conversation := range s.conversations {
		if conversation.UserID == userID {
			items = append(items, *conversation)
		}
	}
	return &models.ConversationPage{Items: items, Total: int64(len(items)), Page: page.Normalize().Number}, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID string, page models.Page) (*models.MessagePage, error) {
	s.listCalls++
	items := s.messages[conversationID]
	return &models.MessagePage{Items: items, Total: int64(len(items)), Page: page.Normalize().Number}, nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, conversationID, userID, role, content string, metadata map[string]any) (*models.Message, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.writeCount++
	message := models.Message{
		ID:             fmt.Sprintf("msg-%d", len(s.messages[conversationID])+1),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], message)
	return &message, nil
}

func (s *fakeStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	items := s.messages[conversationID]
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

type fakeContextBuilder struct {
	context string
	calls   int
}

func (b *fakeContextBuilder) BuildContext(ctx context.Context, userID string, limit int) string {
	b.calls++
	return b.context
}

type fakeGateway struct {
	response   *llm.Response
	err        error
	lastPrompt []llm.Message
	calls      int
}

func (g *fakeGateway) Send(ctx context.Context, messages []llm.Message, userID string, maxTokens int) (*llm.Response, error) {
	g.calls++
	g.lastPrompt = messages
	if g.err != nil {
		return nil, g.err
	}
	return g.response, nil
}

func newTestOrchestrator(store *fakeStore, builder *fakeContextBuilder, gateway *fakeGateway) *Orchestrator {
	return NewOrchestrator(store, builder, gateway, Options{}, nil)
}

func TestSendMessageCreatesConversationWhenNoneSupplied(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "Hi! How can I help?", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	result, err := orchestrator.SendMessage(context.Background(), "user-1", "", "Hello, I have a health question")
	if err != nil {
		t.Fatalf("send message returned error: %v", err)
	}

	conversation, ok := store.conversations[result.ConversationID]
	if !ok {
		t.Fatalf("returned conversation id %q not present in store", result.ConversationID)
	}
	if conversation.UserID != "user-1" {
		t.Fatalf("expected conversation owned by user-1, got %s", conversation.UserID)
	}
	if !strings.HasPrefix(conversation.Title, "Hello, I have a health questio") {
		t.Fatalf("unexpected title %q", conversation.Title)
	}

	messages := store.messages[result.ConversationID]
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "Hello, I have a health question" {
		t.Fatalf("unexpected user message %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Content != "Hi! How can I help?" {
		t.Fatalf("unexpected assistant message %+v", messages[1])
	}
	if messages[1].Metadata["model"] != "gpt-test" {
		t.Fatalf("expected model metadata on assistant message, got %+v", messages[1].Metadata)
	}
	if result.Response != "Hi! How can I help?" {
		t.Fatalf("unexpected response %q", result.Response)
	}
}

func TestSendMessageFallsBackOnForeignConversation(t *testing.T) {
	store := newFakeStore()
	other, _ := store.CreateConversation(context.Background(), "someone-else", "theirs")
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	result, err := orchestrator.SendMessage(context.Background(), "user-1", other.ID, "hello")
	if err != nil {
		t.Fatalf("expected silent fallback, got error: %v", err)
	}
	if result.ConversationID == other.ID {
		t.Fatalf("turn landed in a foreign conversation")
	}
	if store.conversations[result.ConversationID].UserID != "user-1" {
		t.Fatalf("fallback conversation not owned by the caller")
	}
	if len(store.messages[other.ID]) != 0 {
		t.Fatalf("foreign conversation must stay untouched")
	}
}

func TestSendMessageFallsBackOnUnknownConversation(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	result, err := orchestrator.SendMessage(context.Background(), "user-1", "does-not-exist", "hello")
	if err != nil {
		t.Fatalf("expected silent fallback, got error: %v", err)
	}
	if result.ConversationID == "does-not-exist" {
		t.Fatalf("expected a freshly created conversation id")
	}
}

func TestSendMessageRejectsInvalidInputBeforeAnyWrite(t *testing.T) {
	store := newFakeStore()
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, &fakeGateway{})

	if _, err := orchestrator.SendMessage(context.Background(), "user-1", "", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	long := strings.Repeat("a", maxMessageLength+1)
	if _, err := orchestrator.SendMessage(context.Background(), "user-1", "", long); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}

	if store.writeCount != 0 {
		t.Fatalf("expected no store writes for invalid input, got %d", store.writeCount)
	}
}

func TestSendMessageAcceptsMaximumLength(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	if _, err := orchestrator.SendMessage(context.Background(), "user-1", "", strings.Repeat("a", maxMessageLength)); err != nil {
		t.Fatalf("expected 2000-char message to pass validation, got %v", err)
	}
}

func TestRepeatedTurnsInterleaveInCreationOrder(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "reply", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	first, err := orchestrator.SendMessage(context.Background(), "user-1", "", "turn 1")
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}

	const turns = 4
	for i := 2; i <= turns; i++ {
		if _, err := orchestrator.SendMessage(context.Background(), "user-1", first.ConversationID, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("turn %d failed: %v", i, err)
		}
	}

	messages, err := store.RecentMessages(context.Background(), first.ConversationID, 2*turns)
	if err != nil {
		t.Fatalf("recent messages failed: %v", err)
	}
	if len(messages) != 2*turns {
		t.Fatalf("expected %d messages after %d turns, got %d", 2*turns, turns, len(messages))
	}
	for i, message := range messages {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if message.Role != wantRole {
			t.Fatalf("message %d: expected role %s, got %s", i, wantRole, message.Role)
		}
	}
}

func TestGatewayFailureLeavesUserMessageInPlace(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{err: errors.New("provider exploded: 502 bad gateway")}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	_, err := orchestrator.SendMessage(context.Background(), "user-1", "", "hello")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if strings.Contains(err.Error(), "provider exploded") {
		t.Fatalf("provider error leaked to caller: %v", err)
	}

	var conversationID string
	for id := range store.conversations {
		conversationID = id
	}
	messages := store.messages[conversationID]
	if len(messages) != 1 {
		t.Fatalf("expected exactly the user message to remain, got %d messages", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content != "hello" {
		t.Fatalf("unexpected surviving message %+v", messages[0])
	}
}

func TestTurnSucceedsWithEmptyHealthContext(t *testing.T) {
	store := newFakeStore()
	builder := &fakeContextBuilder{context: ""}
	gateway := &fakeGateway{response: &llm.Response{Content: "still fine", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, builder, gateway)

	result, err := orchestrator.SendMessage(context.Background(), "user-1", "", "hello")
	if err != nil {
		t.Fatalf("turn should survive missing health context: %v", err)
	}
	if result.Response != "still fine" {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if builder.calls != 1 {
		t.Fatalf("expected one context build per turn, got %d", builder.calls)
	}
	if len(gateway.lastPrompt) == 0 || gateway.lastPrompt[0].Role == "system" {
		t.Fatalf("expected prompt without system entry, got %+v", gateway.lastPrompt)
	}
}

func TestTurnInjectsHealthContextAsSystemEntry(t *testing.T) {
	store := newFakeStore()
	builder := &fakeContextBuilder{context: "HEALTH CONTEXT:\n\nRecent meals:\n- toast"}
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, builder, gateway)

	if _, err := orchestrator.SendMessage(context.Background(), "user-1", "", "hello"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if gateway.lastPrompt[0].Role != "system" || !strings.HasPrefix(gateway.lastPrompt[0].Content, "HEALTH CONTEXT:") {
		t.Fatalf("expected leading system entry with health context, got %+v", gateway.lastPrompt[0])
	}
	last := gateway.lastPrompt[len(gateway.lastPrompt)-1]
	if last.Role != "user" || last.Content != "hello" {
		t.Fatalf("expected prompt to end with the user message, got %+v", last)
	}
}

func TestCreateConversationProcessesInitialTurn(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "welcome", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	result, err := orchestrator.CreateConversation(context.Background(), "user-1", "I feel dizzy")
	if err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}
	if result.Response != "welcome" {
		t.Fatalf("unexpected response %q", result.Response)
	}

	conversation := store.conversations[result.ConversationID]
	if conversation == nil {
		t.Fatalf("conversation missing from store")
	}
	if !strings.HasPrefix(conversation.Title, "I feel dizzy - ") {
		t.Fatalf("unexpected title %q", conversation.Title)
	}
	if len(store.messages[result.ConversationID]) != 2 {
		t.Fatalf("expected user+assistant messages after initial turn")
	}
}

func TestGetConversationMessagesEnforcesOwnership(t *testing.T) {
	store := newFakeStore()
	foreign, _ := store.CreateConversation(context.Background(), "someone-else", "theirs")
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, &fakeGateway{})

	_, err := orchestrator.GetConversationMessages(context.Background(), foreign.ID, "user-1", models.Page{})
	if !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("expected not-found for foreign conversation, got %v", err)
	}
	if store.listCalls != 0 {
		t.Fatalf("message listing must not run before ownership is confirmed")
	}
}

func TestGetConversationMessagesReturnsPage(t *testing.T) {
	store := newFakeStore()
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	result, err := orchestrator.SendMessage(context.Background(), "user-1", "", "hello")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	page, err := orchestrator.GetConversationMessages(context.Background(), result.ConversationID, "user-1", models.Page{Number: 1, Limit: 10})
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("expected a page with both turn messages, got total=%d items=%d", page.Total, len(page.Items))
	}
}

func TestStoreFailurePropagatesUnchanged(t *testing.T) {
	store := newFakeStore()
	storeErr := errors.New("store: write timeout")
	store.appendErr = storeErr
	gateway := &fakeGateway{response: &llm.Response{Content: "ok", Model: "gpt-test"}}
	orchestrator := newTestOrchestrator(store, &fakeContextBuilder{}, gateway)

	_, err := orchestrator.SendMessage(context.Background(), "user-1", "", "hello")
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate unchanged, got %v", err)
	}
	if gateway.calls != 0 {
		t.Fatalf("gateway must not be called when the user message write fails")
	}
}
