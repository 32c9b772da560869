package store_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthadvisor/server/internal/config"
	"github.com/healthadvisor/server/internal/db"
	"github.com/healthadvisor/server/internal/models"
	"github.com/healthadvisor/server/internal/store"
)

func setupMongo(t *testing.T) *db.Mongo {
	t.Helper()

	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set; skipping mongo integration test")
	}

	database := "healthadvisor_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	mongoStore, err := db.NewMongo(context.Background(), config.MongoConfig{
		URI:            uri,
		Database:       database,
		ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		mongoStore.Database.Drop(ctx)
		mongoStore.Close(ctx)
	})

	if err := mongoStore.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("ensure indexes failed: %v", err)
	}

	return mongoStore
}

func TestConversationStoreRoundTrip(t *testing.T) {
	conversations := store.NewConversationStore(setupMongo(t))
	ctx := context.Background()
	userID := uuid.NewString()

	conversation, err := conversations.CreateConversation(ctx, userID, "First question - Jan 2, 2026")
	if err != nil {
		t.Fatalf("create conversation failed: %v", err)
	}

	fetched, err := conversations.GetConversationByID(ctx, conversation.ID, userID)
	if err != nil {
		t.Fatalf("get conversation failed: %v", err)
	}
	if fetched.Title != conversation.Title {
		t.Fatalf("expected title %q, got %q", conversation.Title, fetched.Title)
	}

	if _, err := conversations.GetConversationByID(ctx, conversation.ID, "someone-else"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Fatalf("expected not-found for foreign user, got %v", err)
	}

	for i, turn := range []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi there"},
		{"user", "how about my labs?"},
	} {
		if _, err := conversations.AppendMessage(ctx, conversation.ID, userID, turn.role, turn.content, nil); err != nil {
			t.Fatalf("append message %d failed: %v", i, err)
		}
		// keep created_at strictly increasing
		time.Sleep(5 * time.Millisecond)
	}

	recent, err := conversations.RecentMessages(ctx, conversation.ID, 2)
	if err != nil {
		t.Fatalf("recent messages failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent messages, got %d", len(recent))
	}
	if recent[0].Content != "hi there" || recent[1].Content != "how about my labs?" {
		t.Fatalf("recent messages out of order: %+v", recent)
	}

	page, err := conversations.ListMessages(ctx, conversation.ID, models.Page{Number: 1, Limit: 2})
	if err != nil {
		t.Fatalf("list messages failed: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items on page 1, got %d", len(page.Items))
	}

	list, err := conversations.ListConversations(ctx, userID, models.Page{})
	if err != nil {
		t.Fatalf("list conversations failed: %v", err)
	}
	if list.Total != 1 || len(list.Items) != 1 {
		t.Fatalf("expected a single conversation for the user, got %+v", list)
	}
}
