package service

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

type memMessages struct {
	mu       sync.Mutex
	messages map[string]domain.Message
	failSave error
	failFind error
	saves    int
}

func newMemMessages() *memMessages {
	return &memMessages{messages: make(map[string]domain.Message)}
}

func (s *memMessages) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	stored := *msg
	if prev, ok := s.messages[msg.ID]; ok {
		stored.Status = domain.Max(prev.Status, msg.Status)
	}
	s.messages[msg.ID] = stored
	return nil
}

func (s *memMessages) FindMessageByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &msg, nil
}

func (s *memMessages) FindMessagesByRoom(_ context.Context, roomID, before string, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	var out []*domain.Message
	for _, m := range s.messages {
		if m.RoomID == roomID && (before == "" || m.ID < before) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memMessages) Close() error { return nil }

func (s *memMessages) get(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

func (s *memMessages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type memPresence struct {
	mu       sync.Mutex
	records  map[string]domain.PresenceRecord
	failFind error
	failSave error
	failFor  map[string]error
}

func newMemPresence() *memPresence {
	return &memPresence{records: make(map[string]domain.PresenceRecord)}
}

func (s *memPresence) SavePresence(_ context.Context, rec *domain.PresenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	if err := s.failFor[rec.Identity]; err != nil {
		return err
	}
	s.records[rec.Identity] = *rec
	return nil
}

func (s *memPresence) FindPresence(_ context.Context, identity string) (*domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind != nil {
		return nil, s.failFind
	}
	rec, ok := s.records[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (s *memPresence) ListOnline(_ context.Context, instanceID string) ([]*domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PresenceRecord
	for _, rec := range s.records {
		if rec.Online && rec.InstanceID == instanceID {
			rec := rec
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (s *memPresence) Close() error { return nil }

func (s *memPresence) get(identity string) (domain.PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	return rec, ok
}

type recordingDistributor struct {
	mu        sync.Mutex
	published []*domain.Message
	err       error
}

func (d *recordingDistributor) Publish(_ context.Context, msg *domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.published = append(d.published, msg)
	return nil
}

func (d *recordingDistributor) all() []*domain.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*domain.Message(nil), d.published...)
}
