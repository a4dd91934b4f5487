// ABOUTME: Tests for conversation and message persistence
// ABOUTME: Covers append ordering, concurrent appenders, CRUD, and no-op deletes

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetMessages_UnknownConversationIsEmpty(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	msgs, err := s.GetMessages(context.Background(), "no-such-conversation")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty slice for unknown id, got %d messages", len(msgs))
	}
}

func TestAppendMessage_CreatesConversationOnFirstUse(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	err := s.AppendMessage(ctx, "conv-1", Message{Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "hello" {
		t.Errorf("content mismatch: got %q", msgs[0].Content)
	}
	if msgs[0].Role != RoleUser {
		t.Errorf("role mismatch: got %q", msgs[0].Role)
	}

	if _, err := s.GetConversation(ctx, "conv-1"); err != nil {
		t.Errorf("conversation row was not created: %v", err)
	}
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleModel
		}
		err := s.AppendMessage(ctx, "conv-1", Message{
			Role:    role,
			Content: fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		want := fmt.Sprintf("message %d", i)
		if msg.Content != want {
			t.Errorf("position %d: got %q, want %q", i, msg.Content, want)
		}
	}
}

func TestAppendMessage_ConcurrentAppendersLoseNothing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	const appenders = 8
	const perAppender = 20

	var wg sync.WaitGroup
	errs := make(chan error, appenders*perAppender)
	for a := 0; a < appenders; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			for i := 0; i < perAppender; i++ {
				err := s.AppendMessage(ctx, "conv-race", Message{
					Role:    RoleUser,
					Content: fmt.Sprintf("appender %d msg %d", a, i),
				})
				if err != nil {
					errs <- err
				}
			}
		}(a)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent append failed: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "conv-race")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != appenders*perAppender {
		t.Errorf("lost updates: expected %d messages, got %d", appenders*perAppender, len(msgs))
	}

	// Each appender's own messages must appear in its send order
	positions := make(map[int][]string)
	for _, msg := range msgs {
		var a, i int
		if _, err := fmt.Sscanf(msg.Content, "appender %d msg %d", &a, &i); err != nil {
			t.Fatalf("unexpected content %q", msg.Content)
		}
		positions[a] = append(positions[a], msg.Content)
	}
	for a, contents := range positions {
		for i, c := range contents {
			want := fmt.Sprintf("appender %d msg %d", a, i)
			if c != want {
				t.Errorf("appender %d order violated: got %q at index %d", a, c, i)
			}
		}
	}
}

func TestAppendMessage_FileMetadataRoundTrips(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	file := &FileRef{
		OriginalName: "holiday.png",
		StoredName:   "1717171717.png",
		MediaType:    "image/png",
		Path:         "uploads/1717171717.png",
	}
	if err := s.AppendMessage(ctx, "conv-1", Message{Role: RoleUser, Content: "look", File: file}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if msgs[0].File == nil {
		t.Fatal("file metadata was not persisted")
	}
	if *msgs[0].File != *file {
		t.Errorf("file metadata mismatch: got %+v, want %+v", *msgs[0].File, *file)
	}
}

func TestCreateConversation_SeedsFirstMessage(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	err := s.CreateConversation(ctx, "conv-1", "Trip Planning", Message{
		Role:    RoleUser,
		Content: "plan my trip",
	})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Name != "Trip Planning" {
		t.Errorf("name mismatch: got %q", conv.Name)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "plan my trip" {
		t.Errorf("first message not seeded: %+v", msgs)
	}
}

func TestListConversations_RecencyOrder(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "old", "Old", Message{Role: RoleUser, Content: "a"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.CreateConversation(ctx, "new", "New", Message{Role: RoleUser, Content: "b"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "old" {
		t.Errorf("wrong recency order: %q then %q", list[0].ID, list[1].ID)
	}

	// Appending to the old conversation bumps it to the front
	time.Sleep(5 * time.Millisecond)
	if err := s.AppendMessage(ctx, "old", Message{Role: RoleModel, Content: "reply"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	list, err = s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if list[0].ID != "old" {
		t.Errorf("append did not refresh recency: front is %q", list[0].ID)
	}
}

func TestRenameConversation(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "Before", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.RenameConversation(ctx, "conv-1", "After"); err != nil {
		t.Fatalf("RenameConversation failed: %v", err)
	}

	conv, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Name != "After" {
		t.Errorf("name mismatch: got %q", conv.Name)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "Doomed", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	if _, err := s.GetConversation(ctx, "conv-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived conversation delete: %d left", len(msgs))
	}
}

func TestDeleteConversation_UnknownIDIsNoOp(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "keep", "Keep", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	if err := s.DeleteConversation(ctx, "never-existed"); err != nil {
		t.Errorf("deleting unknown id should be a no-op, got %v", err)
	}

	list, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("unrelated state changed: %d conversations", len(list))
	}
}

func TestClearMessages(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "conv-1", "Chat", Message{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if err := s.AppendMessage(ctx, "conv-1", Message{Role: RoleModel, Content: "y"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	if err := s.ClearMessages(ctx, "conv-1"); err != nil {
		t.Fatalf("ClearMessages failed: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages after clear, got %d", len(msgs))
	}
	if _, err := s.GetConversation(ctx, "conv-1"); err != nil {
		t.Errorf("conversation row should survive clear: %v", err)
	}
}

func TestGetMessages_NormalizesLegacyAssistantRole(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.AppendMessage(ctx, "conv-1", Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	// Simulate a legacy row written with the old "assistant" label
	if _, err := s.db.Exec(
		`UPDATE messages SET role = 'assistant' WHERE conversation_id = 'conv-1'`); err != nil {
		t.Fatalf("updating role: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if msgs[0].Role != RoleModel {
		t.Errorf("legacy assistant role not normalized: got %q", msgs[0].Role)
	}
}
