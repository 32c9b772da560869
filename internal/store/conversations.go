package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/healthadvisor/server/internal/db"
	"github.com/healthadvisor/server/internal/models"
)

// ConversationStore persists conversations and their messages in MongoDB.
// Messages are append-only; a conversation's updated_at tracks the latest
// append.
type ConversationStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewConversationStore(m *db.Mongo) *ConversationStore {
	return &ConversationStore{
		conversations: m.Conversations,
		messages:      m.Messages,
	}
}

func (s *ConversationStore) CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error) {
	now := time.Now().UTC()
	conversation := models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.conversations.InsertOne(ctx, conversation); err != nil {
		return nil, fmt.Errorf("store: insert conversation: %w", err)
	}

	return &conversation, nil
}

// GetConversationByID fetches a conversation scoped to its owner. A missing
// or foreign conversation yields models.ErrConversationNotFound.
func (s *ConversationStore) GetConversationByID(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	filter := bson.M{"_id": conversationID, "user_id": userID}

	var conversation models.Conversation
	if err := s.conversations.FindOne(ctx, filter).Decode(&conversation); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrConversationNotFound
		}
		return nil, fmt.Errorf("store: query conversation: %w", err)
	}

	return &conversation, nil
}

func (s *ConversationStore) ListConversations(ctx context.Context, userID string, page models.Page) (*models.ConversationPage, error) {
	page = page.Normalize()
	filter := bson.M{"user_id": userID}

	total, err := s.conversations.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: count conversations: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip(int64((page.Number - 1) * page.Limit)).
		SetLimit(int64(page.Limit))

	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]models.Conversation, 0, page.Limit)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("store: decode conversations: %w", err)
	}

	return &models.ConversationPage{Items: items, Total: total, Page: page.Number}, nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, conversationID string, page models.Page) (*models.MessagePage, error) {
	page = page.Normalize()
	filter := bson.M{"conversation_id": conversationID}

	total, err := s.messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("store: count messages: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page.Number - 1) * page.Limit)).
		SetLimit(int64(page.Limit))

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]models.Message, 0, page.Limit)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("store: decode messages: %w", err)
	}

	return &models.MessagePage{Items: items, Total: total, Page: page.Number}, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID, userID, role, content string, metadata map[string]any) (*models.Message, error) {
	now := time.Now().UTC()
	message := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      now,
	}

	if _, err := s.messages.InsertOne(ctx, message); err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	update := bson.M{"$set": bson.M{"updated_at": now}}
	if _, err := s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID, "user_id": userID}, update); err != nil {
		return nil, fmt.Errorf("store: touch conversation: %w", err)
	}

	return &message, nil
}

// RecentMessages returns the newest limit messages in chronological order,
// oldest first.
func (s *ConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]models.Message, 0, limit)
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("store: decode recent messages: %w", err)
	}

	// Query is newest-first; flip to chronological order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}
