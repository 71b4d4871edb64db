package handler

import (
	"context"
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/cache"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
)

type memMessages struct {
	mu       sync.Mutex
	messages map[string]domain.Message
}

func newMemMessages() *memMessages {
	return &memMessages{messages: make(map[string]domain.Message)}
}

func (s *memMessages) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ID] = *msg
	return nil
}

func (s *memMessages) FindMessageByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &msg, nil
}

func (s *memMessages) FindMessagesByRoom(_ context.Context, roomID, before string, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

type nopDistributor struct{ err error }

func (d nopDistributor) Publish(context.Context, *domain.Message) error { return d.err }

type stubHistory struct {
	page      *cache.HistoryPage
	err       error
	gotRoom   string
	gotBefore string
	gotLimit  int
}

func (s *stubHistory) GetHistory(_ context.Context, roomID, before string, limit int) (*cache.HistoryPage, error) {
	s.gotRoom, s.gotBefore, s.gotLimit = roomID, before, limit
	return s.page, s.err
}

type stubTracker struct {
	records map[string]*domain.PresenceRecord
	err     error
}

func (s *stubTracker) OnConnect(context.Context, string, string) {}

func (s *stubTracker) OnDisconnect(context.Context, string) {}

func (s *stubTracker) Reconcile(context.Context) error {
	return nil
}

func (s *stubTracker) Connections() int {
	return 0
}

func (s *stubTracker) Lookup(_ context.Context, identity string) (*domain.PresenceRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}
