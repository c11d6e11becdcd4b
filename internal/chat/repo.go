package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Title     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (SessionRecord) TableName() string { return "chat_sessions" }

type MessageRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"type:varchar(64);index;not null"`
	Kind      string `gorm:"type:varchar(16);not null"`
	// human text, or the raw answer JSON for AI messages
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (MessageRecord) TableName() string { return "chat_messages" }

// Repo is the gorm-backed local session cache. It implements Persister.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&SessionRecord{}, &MessageRecord{})
}

func (r *Repo) SaveSession(ctx context.Context, s Session) error {
	rec := SessionRecord{
		SessionID: s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "updated_at"}),
		}).
		Create(&rec).Error
}

func toRecord(sessionID string, m Message) (MessageRecord, error) {
	rec := MessageRecord{
		SessionID: sessionID,
		Kind:      string(m.Kind),
		CreatedAt: m.CreatedAt,
	}
	switch m.Kind {
	case KindHuman:
		rec.Content = m.Text
	case KindAI:
		if m.Answer == nil {
			return MessageRecord{}, fmt.Errorf("ai message without answer")
		}
		b, err := json.Marshal(m.Answer)
		if err != nil {
			return MessageRecord{}, err
		}
		rec.Content = string(b)
	default:
		return MessageRecord{}, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return rec, nil
}

func fromRecord(rec MessageRecord) (Message, error) {
	switch Kind(rec.Kind) {
	case KindHuman:
		return Message{Kind: KindHuman, Text: rec.Content, CreatedAt: rec.CreatedAt}, nil
	case KindAI:
		answer, err := DecodeAnswer(json.RawMessage(rec.Content))
		if err != nil {
			answer = UnrecognizedAnswer(json.RawMessage(rec.Content))
		}
		return Message{Kind: KindAI, Answer: &answer, CreatedAt: rec.CreatedAt}, nil
	default:
		return Message{}, fmt.Errorf("unknown message kind %q", rec.Kind)
	}
}

func (r *Repo) AppendMessage(ctx context.Context, sessionID string, m Message) error {
	rec, err := toRecord(sessionID, m)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *Repo) ReplaceMessages(ctx context.Context, sessionID string, msgs []Message) error {
	recs := make([]MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		rec, err := toRecord(sessionID, m)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.Create(&recs).Error
	})
}

func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&SessionRecord{}).Error
	})
}

// LoadSessions returns sessions newest first, each with its messages in
// insertion order.
func (r *Repo) LoadSessions(ctx context.Context) ([]Session, error) {
	var recs []SessionRecord
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		msgs, err := r.ListMessages(ctx, rec.SessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, Session{
			ID:        rec.SessionID,
			Title:     rec.Title,
			Messages:  msgs,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

// ListMessages returns a session's messages in ASC id order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var recs []MessageRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		m, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", rec.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
