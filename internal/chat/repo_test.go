package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := NewRepo(db).AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestRepo_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	s, err := NewStore(ctx, repo, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	first := s.ActiveID()
	if _, err := s.AppendHuman(ctx, first, "top 10 products"); err != nil {
		t.Fatalf("append human: %v", err)
	}
	if !s.AppendAI(ctx, first, mustAnswer(t, `{"query_intent":"normal_search","sql_search_result":{"sql":"select 1"}}`)) {
		t.Fatalf("append ai: no match")
	}
	second, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// a second store over the same db sees the same state
	restored, err := NewStore(ctx, repo, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	list := restored.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	var got Session
	for _, sess := range list {
		if sess.ID == first {
			got = sess
		}
	}
	if got.Title != "top 10 products" {
		t.Fatalf("title not persisted: %q", got.Title)
	}
	if len(got.Messages) != 2 || got.Messages[0].Kind != KindHuman || got.Messages[1].Kind != KindAI {
		t.Fatalf("messages not persisted: %+v", got.Messages)
	}
	if ns, ok := got.Messages[1].Answer.Result.(NormalSearch); !ok || ns.SQL.SQL != "select 1" {
		t.Fatalf("answer not decoded: %+v", got.Messages[1].Answer.Result)
	}

	if _, err := restored.Delete(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sessions, err := repo.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != first {
		t.Fatalf("delete not persisted: %+v", sessions)
	}
}

func TestRepo_ReplaceMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	if err := repo.SaveSession(ctx, Session{ID: "s1", Title: DefaultTitle}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.AppendMessage(ctx, "s1", HumanMessage("old")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.ReplaceMessages(ctx, "s1", []Message{HumanMessage("new 1"), HumanMessage("new 2")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	msgs, err := repo.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "new 1" || msgs[1].Text != "new 2" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	if err := repo.ReplaceMessages(ctx, "s1", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, _ = repo.ListMessages(ctx, "s1")
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestRepo_SaveSessionUpserts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewRepo(db)

	if err := repo.SaveSession(ctx, Session{ID: "s1", Title: DefaultTitle}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.SaveSession(ctx, Session{ID: "s1", Title: "renamed"}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	var count int64
	if err := db.Model(&SessionRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	sessions, _ := repo.LoadSessions(ctx)
	if sessions[0].Title != "renamed" {
		t.Fatalf("title not updated: %q", sessions[0].Title)
	}
}
