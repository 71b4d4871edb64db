package distribution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/kafka"
)

var errBrokerDown = errors.New("broker down")

type produced struct {
	key   string
	value []byte
}

// step decides the fate of the n-th Produce call (1-based).
type step func(n int, key string) (submitErr, ackErr error)

type scriptedProducer struct {
	mu       sync.Mutex
	calls    []produced
	inflight map[string]int
	overlap  bool
	delay    time.Duration
	silent   bool
	step     step
}

func newScriptedProducer(s step) *scriptedProducer {
	return &scriptedProducer{inflight: make(map[string]int), step: s}
}

func (p *scriptedProducer) Produce(key string, value []byte, report chan<- kafka.DeliveryReport) error {
	p.mu.Lock()
	p.calls = append(p.calls, produced{key: key, value: value})
	if p.inflight[key] > 0 {
		p.overlap = true
	}
	var submitErr, ackErr error
	if p.step != nil {
		submitErr, ackErr = p.step(len(p.calls), key)
	}
	if submitErr != nil {
		p.mu.Unlock()
		return submitErr
	}
	p.inflight[key]++
	silent := p.silent
	delay := p.delay
	p.mu.Unlock()

	if silent {
		return nil
	}
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		p.mu.Lock()
		p.inflight[key]--
		n := int64(len(p.calls))
		p.mu.Unlock()
		report <- kafka.DeliveryReport{Offset: n, Err: ackErr}
	}()
	return nil
}

func (p *scriptedProducer) Close() error { return nil }

func (p *scriptedProducer) Calls() []produced {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]produced, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *scriptedProducer) Overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}

type outcomes struct {
	mu   sync.Mutex
	errs map[string]error
	done chan string
}

func newOutcomes() *outcomes {
	return &outcomes{errs: make(map[string]error), done: make(chan string, 1024)}
}

func (o *outcomes) record(msg *domain.Message, err error) {
	o.mu.Lock()
	o.errs[msg.ID] = err
	o.mu.Unlock()
	o.done <- msg.ID
}

func (o *outcomes) get(id string) (error, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	err, ok := o.errs[id]
	return err, ok
}

// memStore is an in-memory MessageStore.
type memStore struct {
	mu       sync.Mutex
	messages map[string]domain.Message
	saveErr  error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]domain.Message)}
}

func (s *memStore) SaveMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	stored := *msg
	if prev, ok := s.messages[msg.ID]; ok {
		stored.Status = domain.Max(prev.Status, msg.Status)
	}
	s.messages[msg.ID] = stored
	return nil
}

func (s *memStore) FindMessageByID(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &msg, nil
}

func (s *memStore) FindMessagesByRoom(_ context.Context, roomID, before string, limit int) ([]*domain.Message, error) {
	return nil, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) setSaveErr(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

func (s *memStore) get(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	return msg, ok
}

// feedSource replays records then waits for cancellation.
type feedSource struct {
	records []kafka.Record
}

func (f *feedSource) Run(ctx context.Context, handle func(ctx context.Context, rec kafka.Record)) error {
	for _, rec := range f.records {
		handle(ctx, rec)
	}
	<-ctx.Done()
	return nil
}

func (f *feedSource) Close() error { return nil }

// stoppedSource hands its records over a context that is already done, as a
// poll loop does when shutdown races a fetch.
type stoppedSource struct {
	records []kafka.Record
}

func (f *stoppedSource) Run(ctx context.Context, handle func(ctx context.Context, rec kafka.Record)) error {
	done, cancel := context.WithCancel(ctx)
	cancel()
	for _, rec := range f.records {
		handle(done, rec)
	}
	return nil
}

func (f *stoppedSource) Close() error { return nil }
