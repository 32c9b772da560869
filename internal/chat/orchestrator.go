package chat

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/healthadvisor/server/internal/llm"
	"github.com/healthadvisor/server/internal/models"
)

const (
	maxMessageLength    = 2000
	titleRuneLimit      = 30
	titleDateLayout     = "Jan 2, 2006"
	defaultHistoryLimit = 10
	defaultHealthLimit  = 5
	roleUser            = "user"
	roleAssistant       = "assistant"
)

var (
	// ErrEmptyMessage and ErrMessageTooLong are client errors, raised
	// before any write occurs.
	ErrEmptyMessage   = errors.New("chat: message cannot be empty")
	ErrMessageTooLong = errors.New("chat: message exceeds maximum length")

	// ErrUpstreamUnavailable covers every gateway failure, timeouts
	// included. The provider error is logged, never surfaced.
	ErrUpstreamUnavailable = errors.New("chat: assistant service unavailable")
)

// ConversationStore is the durable, user-scoped conversation persistence
// contract. Messages are append-only per conversation.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, page models.Page) (*models.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID string, page models.Page) (*models.MessagePage, error)
	AppendMessage(ctx context.Context, conversationID, userID, role, content string, metadata map[string]any) (*models.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// ContextBuilder produces the health context block for a user, or "" when
// there is nothing to inject.
type ContextBuilder interface {
	BuildContext(ctx context.Context, userID string, limit int) string
}

// Gateway sends a prompt to the LLM provider.
type Gateway interface {
	Send(ctx context.Context, messages []llm.Message, userID string, maxTokens int) (*llm.Response, error)
}

// Options bound a turn's context assembly.
type Options struct {
	HistoryLimit      int
	HealthRecordLimit int
	MaxTokens         int
}

// TurnResult is the outcome of one chat turn. ConversationID names the
// conversation actually used, which may differ from the one requested.
type TurnResult struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

// Orchestrator drives a chat turn: it resolves the conversation, persists
// the user message, assembles history and health context, calls the
// gateway, and persists the reply. All collaborators are injected.
type Orchestrator struct {
	store          ConversationStore
	contextBuilder ContextBuilder
	gateway        Gateway
	opts           Options
	logger         *zap.Logger
}

func NewOrchestrator(store ConversationStore, contextBuilder ContextBuilder, gateway Gateway, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.HealthRecordLimit <= 0 {
		opts.HealthRecordLimit = defaultHealthLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		store:          store,
		contextBuilder: contextBuilder,
		gateway:        gateway,
		opts:           opts,
		logger:         logger,
	}
}

// CreateConversation starts a fresh conversation titled from the initial
// message and processes that message as the first turn.
func (o *Orchestrator) CreateConversation(ctx context.Context, userID, initialMessage string) (*TurnResult, error) {
	if err := validateMessage(initialMessage); err != nil {
		return nil, err
	}

	conversation, err := o.store.CreateConversation(ctx, userID, o.titleFor(initialMessage))
	if err != nil {
		return nil, err
	}

	response, err := o.processTurn(ctx, conversation, userID, initialMessage)
	if err != nil {
		return nil, err
	}

	return &TurnResult{ConversationID: conversation.ID, Response: response}, nil
}

// SendMessage processes one turn against an existing conversation. A
// missing, stale or foreign conversationID never hard-fails the send: the
// turn silently lands in a fresh conversation instead, and the returned
// ConversationID reports where it went.
func (o *Orchestrator) SendMessage(ctx context.Context, userID, conversationID, message string) (*TurnResult, error) {
	if err := validateMessage(message); err != nil {
		return nil, err
	}

	var conversation *models.Conversation
	if conversationID != "" {
		existing, err := o.store.GetConversationByID(ctx, conversationID, userID)
		switch {
		case err == nil:
			conversation = existing
		case errors.Is(err, models.ErrConversationNotFound):
			o.logger.Info("requested conversation unavailable, starting a new one",
				zap.String("conversation_id", conversationID), zap.String("user_id", userID))
		default:
			return nil, err
		}
	}

	if conversation == nil {
		created, err := o.store.CreateConversation(ctx, userID, o.titleFor(message))
		if err != nil {
			return nil, err
		}
		conversation = created
	}

	response, err := o.processTurn(ctx, conversation, userID, message)
	if err != nil {
		return nil, err
	}

	return &TurnResult{ConversationID: conversation.ID, Response: response}, nil
}

// GetConversationMessages confirms ownership before touching the message
// collection, so message existence never leaks across users.
func (o *Orchestrator) GetConversationMessages(ctx context.Context, conversationID, userID string, page models.Page) (*models.MessagePage, error) {
	if _, err := o.store.GetConversationByID(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	return o.store.ListMessages(ctx, conversationID, page)
}

// GetUserConversations lists a user's conversations, most recent activity
// first.
func (o *Orchestrator) GetUserConversations(ctx context.Context, userID string, page models.Page) (*models.ConversationPage, error) {
	return o.store.ListConversations(ctx, userID, page)
}

// processTurn is the shared turn routine. The user message is durable
// before the gateway call is issued and the assistant message is written
// after it returns, so a crash mid-turn can leave an unanswered user
// message but never an answer without its prompt.
func (o *Orchestrator) processTurn(ctx context.Context, conversation *models.Conversation, userID, message string) (string, error) {
	if _, err := o.store.AppendMessage(ctx, conversation.ID, userID, roleUser, message, nil); err != nil {
		return "", err
	}

	var (
		history       []models.Message
		healthContext string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = o.store.RecentMessages(gctx, conversation.ID, o.opts.HistoryLimit)
		return err
	})
	g.Go(func() error {
		healthContext = o.contextBuilder.BuildContext(gctx, userID, o.opts.HealthRecordLimit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	prompt := BuildPrompt(history, healthContext)

	reply, err := o.gateway.Send(ctx, prompt, userID, o.opts.MaxTokens)
	if err != nil {
		o.logger.Warn("completion call failed",
			zap.String("conversation_id", conversation.ID), zap.Error(err))
		return "", ErrUpstreamUnavailable
	}

	metadata := map[string]any{
		"model":        reply.Model,
		"processed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if reply.Usage != nil {
		metadata["total_tokens"] = reply.Usage.TotalTokens
	}

	if _, err := o.store.AppendMessage(ctx, conversation.ID, userID, roleAssistant, reply.Content, metadata); err != nil {
		return "", err
	}

	return reply.Content, nil
}

func (o *Orchestrator) titleFor(message string) string {
	return deriveTitle(message, titleRuneLimit, time.Now().UTC().Format(titleDateLayout))
}

func validateMessage(message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
