package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageRow is the SQL shape of a message.
type messageRow struct {
	ID             string    `gorm:"primaryKey;size:26"`
	RoomID         string    `gorm:"size:128;not null;index:idx_messages_room_id,priority:1"`
	Sender         string    `gorm:"size:255;not null"`
	Content        string    `gorm:"type:text"`
	FileURL        string    `gorm:"size:1024"`
	FileName       string    `gorm:"size:255"`
	FileType       string    `gorm:"size:128"`
	Status         string    `gorm:"size:16;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	OriginInstance string    `gorm:"size:255"`
}

func (messageRow) TableName() string { return "messages" }

var immutableMessageColumns = []string{
	"room_id", "sender", "content", "file_url", "file_name", "file_type", "created_at", "origin_instance",
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}

func toMessageRow(m *domain.Message) *messageRow {
	return &messageRow{
		ID:             m.ID,
		RoomID:         m.RoomID,
		Sender:         m.Sender,
		Content:        m.Content,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileType:       m.FileType,
		Status:         string(m.Status),
		CreatedAt:      m.Timestamp,
		OriginInstance: m.OriginInstance,
	}
}

func (r *messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:             r.ID,
		RoomID:         r.RoomID,
		Sender:         r.Sender,
		Content:        r.Content,
		FileURL:        r.FileURL,
		FileName:       r.FileName,
		FileType:       r.FileType,
		Status:         domain.Status(r.Status),
		Timestamp:      r.CreatedAt.UTC(),
		OriginInstance: r.OriginInstance,
	}
}

type GormMessageStore struct {
	db *gorm.DB
}

// NewGormMessageStore migrates the messages table and returns the store.
func NewGormMessageStore(db *gorm.DB) (*GormMessageStore, error) {
	if err := database.AutoMigrate(db, &messageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate messages: %w", err)
	}
	return &GormMessageStore{db: db}, nil
}

// SaveMessage upserts the immutable columns and then advances status only
// from a predecessor, so a stale save never lowers it.
func (s *GormMessageStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(immutableMessageColumns),
		}).Create(toMessageRow(msg)).Error
		if err != nil {
			return err
		}

		lower := statusStrings(msg.Status.Predecessors())
		if len(lower) == 0 {
			return nil
		}
		return tx.Model(&messageRow{}).
			Where("id = ? AND status IN ?", msg.ID, lower).
			Update("status", string(msg.Status)).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormMessageStore) FindMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return row.toDomain(), nil
}

func (s *GormMessageStore) FindMessagesByRoom(ctx context.Context, roomID, before string, limit int) ([]*domain.Message, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if before != "" {
		q = q.Where("id < ?", before)
	}

	var rows []messageRow
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w: %w", domain.ErrStoreUnavailable, err)
	}

	messages := make([]*domain.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		messages = append(messages, rows[i].toDomain())
	}
	return messages, nil
}

// Close is a no-op: main owns the *gorm.DB, which may also back presence.
func (s *GormMessageStore) Close() error {
	return nil
}
