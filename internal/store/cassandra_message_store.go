package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

const (
	messageColumns   = `message_id, room_id, sender, content, file_url, file_name, file_type, status, created_at, origin_instance`
	immutableColumns = `message_id, room_id, sender, content, file_url, file_name, file_type, created_at, origin_instance`
)

// CassandraMessageStore writes every message to a by-id table for receipts
// and a by-room table clustered on the ULID for history.
type CassandraMessageStore struct {
	client *CassandraClient
}

func NewCassandraMessageStore(client *CassandraClient) *CassandraMessageStore {
	return &CassandraMessageStore{client: client}
}

// SaveMessage writes the immutable columns with a plain batch and moves
// status forward with a compare-and-set per table, so a stale save never
// lowers it.
func (s *CassandraMessageStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	session := s.client.Session()
	args := []interface{}{
		msg.ID, msg.RoomID, msg.Sender, msg.Content,
		msg.FileURL, msg.FileName, msg.FileType,
		msg.Timestamp, msg.OriginInstance,
	}

	batch := session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages_by_id (`+immutableColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	batch.Query(`INSERT INTO messages_by_room (`+immutableColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)

	if err := session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	if err := s.advanceStatus(ctx, "messages_by_id", "message_id = ?", []interface{}{msg.ID}, msg.Status); err != nil {
		return fmt.Errorf("failed to save message status: %w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := s.advanceStatus(ctx, "messages_by_room", "room_id = ? AND message_id = ?", []interface{}{msg.RoomID, msg.ID}, msg.Status); err != nil {
		return fmt.Errorf("failed to save message status: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// advanceStatus sets status only while the stored value precedes it. Each
// lost race re-reads the stored value, and there are only as many rounds as
// there are statuses.
func (s *CassandraMessageStore) advanceStatus(ctx context.Context, table, where string, key []interface{}, status domain.Status) error {
	if !status.Valid() {
		return nil
	}

	var current string
	for attempt := 0; attempt <= len(status.Predecessors()); attempt++ {
		query := `UPDATE ` + table + ` SET status = ? WHERE ` + where
		args := append([]interface{}{string(status)}, key...)
		if current == "" {
			query += ` IF status = null`
		} else {
			query += ` IF status = ?`
			args = append(args, current)
		}

		previous := map[string]interface{}{}
		applied, err := s.client.Session().Query(query, args...).WithContext(ctx).MapScanCAS(previous)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}

		observed, _ := previous["status"].(string)
		if !domain.Status(observed).Before(status) {
			return nil
		}
		current = observed
	}
	return fmt.Errorf("status of %v in %s kept changing", key, table)
}

func (s *CassandraMessageStore) FindMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	var status string

	err := s.client.Session().Query(
		`SELECT `+messageColumns+` FROM messages_by_id WHERE message_id = ?`, id,
	).WithContext(ctx).Scan(
		&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content,
		&msg.FileURL, &msg.FileName, &msg.FileType,
		&status, &msg.Timestamp, &msg.OriginInstance,
	)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find message: %w: %w", domain.ErrStoreUnavailable, err)
	}
	msg.Status = domain.Status(status)
	return &msg, nil
}

func (s *CassandraMessageStore) FindMessagesByRoom(ctx context.Context, roomID, before string, limit int) ([]*domain.Message, error) {
	var query string
	var args []interface{}

	if before == "" {
		query = `SELECT ` + messageColumns + ` FROM messages_by_room
				 WHERE room_id = ?
				 ORDER BY message_id DESC
				 LIMIT ?`
		args = []interface{}{roomID, limit}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages_by_room
				 WHERE room_id = ? AND message_id < ?
				 ORDER BY message_id DESC
				 LIMIT ?`
		args = []interface{}{roomID, before, limit}
	}

	iter := s.client.Session().Query(query, args...).WithContext(ctx).Iter()

	var messages []*domain.Message
	for {
		var msg domain.Message
		var status string
		if !iter.Scan(
			&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content,
			&msg.FileURL, &msg.FileName, &msg.FileType,
			&status, &msg.Timestamp, &msg.OriginInstance,
		) {
			break
		}
		msg.Status = domain.Status(status)
		messages = append(messages, &msg)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w: %w", domain.ErrStoreUnavailable, err)
	}

	reverse(messages)
	return messages, nil
}

func (s *CassandraMessageStore) Close() error {
	s.client.Close()
	return nil
}

func reverse(messages []*domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
