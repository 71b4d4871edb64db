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

type presenceRow struct {
	Identity   string    `gorm:"primaryKey;size:255"`
	Online     bool      `gorm:"not null;index:idx_presence_online_instance,priority:1"`
	LastSeen   time.Time `gorm:"not null"`
	InstanceID string    `gorm:"size:255;index:idx_presence_online_instance,priority:2"`
}

func (presenceRow) TableName() string { return "presence" }

func (r *presenceRow) toDomain() *domain.PresenceRecord {
	return &domain.PresenceRecord{
		Identity:   r.Identity,
		Online:     r.Online,
		LastSeen:   r.LastSeen.UTC(),
		InstanceID: r.InstanceID,
	}
}

type GormPresenceStore struct {
	db *gorm.DB
}

func NewGormPresenceStore(db *gorm.DB) (*GormPresenceStore, error) {
	if err := database.AutoMigrate(db, &presenceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate presence: %w", err)
	}
	return &GormPresenceStore{db: db}, nil
}

func (s *GormPresenceStore) SavePresence(ctx context.Context, rec *domain.PresenceRecord) error {
	row := &presenceRow{
		Identity:   rec.Identity,
		Online:     rec.Online,
		LastSeen:   rec.LastSeen,
		InstanceID: rec.InstanceID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			UpdateAll: true,
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save presence: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *GormPresenceStore) FindPresence(ctx context.Context, identity string) (*domain.PresenceRecord, error) {
	var row presenceRow
	err := s.db.WithContext(ctx).Where("identity = ?", identity).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find presence: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return row.toDomain(), nil
}

func (s *GormPresenceStore) ListOnline(ctx context.Context, instanceID string) ([]*domain.PresenceRecord, error) {
	var rows []presenceRow
	err := s.db.WithContext(ctx).
		Where("online = ? AND instance_id = ?", true, instanceID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list online presence: %w: %w", domain.ErrStoreUnavailable, err)
	}

	records := make([]*domain.PresenceRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toDomain())
	}
	return records, nil
}

// Close is a no-op: main owns the *gorm.DB.
func (s *GormPresenceStore) Close() error {
	return nil
}
