package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/kafka"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

var (
	ErrPublisherClosed = errors.New("publisher closed")
	ErrMissingRoom     = errors.New("message has no room id")
	ErrBacklogFull     = errors.New("room backlog full")
	errAckTimeout      = errors.New("no delivery report before ack timeout")
)

// Outcome is called once per published message with nil on delivery or an
// error wrapping domain.ErrTransportSubmitFailed when it was given up.
type Outcome func(msg *domain.Message, err error)

type pending struct {
	msg        *domain.Message
	value      []byte
	enqueuedAt time.Time
}

// lane is the FIFO of one room. A lane goroutine exists only while the
// queue is non-empty.
type lane struct {
	queue []*pending
}

// Publisher hands messages to the transport keyed by room. Each room has
// its own lane so a room's next message is submitted only after the
// previous one is acknowledged or given up, while rooms proceed in parallel.
type Publisher struct {
	producer    kafka.Producer
	maxAttempts int
	backoff     time.Duration
	ackTimeout  time.Duration
	queueSize   int
	outcome     Outcome

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	wg     sync.WaitGroup
	abort  chan struct{}
}

func NewPublisher(producer kafka.Producer, cfg config.DistributionConfig, outcome Outcome) *Publisher {
	p := &Publisher{
		producer:    producer,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		ackTimeout:  cfg.AckTimeout,
		queueSize:   cfg.LaneQueueSize,
		outcome:     outcome,
		lanes:       make(map[string]*lane),
		abort:       make(chan struct{}),
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.ackTimeout <= 0 {
		p.ackTimeout = 30 * time.Second
	}
	if p.queueSize <= 0 {
		p.queueSize = 1024
	}
	return p
}

// Publish enqueues msg on its room lane and returns. Only rejections that
// mean the message will never be attempted are returned.
func (p *Publisher) Publish(ctx context.Context, msg *domain.Message) error {
	if msg.RoomID == "" {
		return ErrMissingRoom
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	ln, running := p.lanes[msg.RoomID]
	if !running {
		ln = &lane{}
		p.lanes[msg.RoomID] = ln
	}
	if len(ln.queue) >= p.queueSize {
		return fmt.Errorf("room %s: %w", msg.RoomID, ErrBacklogFull)
	}
	ln.queue = append(ln.queue, &pending{msg: msg, value: value, enqueuedAt: time.Now()})

	if !running {
		p.wg.Add(1)
		go p.runLane(msg.RoomID, ln)
	}
	return nil
}

func (p *Publisher) runLane(roomID string, ln *lane) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if len(ln.queue) == 0 {
			delete(p.lanes, roomID)
			p.mu.Unlock()
			return
		}
		next := ln.queue[0]
		ln.queue[0] = nil
		ln.queue = ln.queue[1:]
		p.mu.Unlock()

		p.deliver(next)
	}
}

// deliver runs the attempt/backoff cycle for one message on the lane
// goroutine; callers of Publish never wait on it.
func (p *Publisher) deliver(pd *pending) {
	msg := pd.msg
	l := log.L().With().
		Str(log.FieldMessageID, msg.ID).
		Str(log.FieldRoomID, msg.RoomID).
		Logger()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if p.aborted() || (attempt > 1 && !p.wait(p.backoff)) {
			lastErr = ErrPublisherClosed
			break
		}

		report, err := p.attempt(msg.RoomID, pd.value)
		if err == nil {
			metrics.PublishAttempts.WithLabelValues("acked").Inc()
			metrics.PublishLatency.Observe(time.Since(pd.enqueuedAt).Seconds())
			l.Debug().Int32(log.FieldPartition, report.Partition).Int64(log.FieldOffset, report.Offset).
				Int(log.FieldAttempt, attempt).Msg("message distributed")
			p.report(msg, nil)
			return
		}

		lastErr = err
		if errors.Is(err, domain.ErrTransportAckFailed) {
			metrics.PublishAttempts.WithLabelValues("ack_failed").Inc()
		} else {
			metrics.PublishAttempts.WithLabelValues("submit_failed").Inc()
		}
		l.Warn().Err(err).Int(log.FieldAttempt, attempt).Int("max_attempts", p.maxAttempts).Msg("distribution attempt failed")
	}

	metrics.MessagesLost.Inc()
	metrics.PublishLatency.Observe(time.Since(pd.enqueuedAt).Seconds())
	l.Error().Err(lastErr).Msg("message lost in distribution")
	p.report(msg, fmt.Errorf("%w: %w", domain.ErrTransportSubmitFailed, lastErr))
}

func (p *Publisher) attempt(key string, value []byte) (kafka.DeliveryReport, error) {
	report := make(chan kafka.DeliveryReport, 1)
	if err := p.producer.Produce(key, value, report); err != nil {
		return kafka.DeliveryReport{}, err
	}

	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()

	select {
	case r := <-report:
		if r.Err != nil {
			return r, fmt.Errorf("%w: %w", domain.ErrTransportAckFailed, r.Err)
		}
		return r, nil
	case <-timer.C:
		return kafka.DeliveryReport{}, fmt.Errorf("%w: %w", domain.ErrTransportAckFailed, errAckTimeout)
	case <-p.abort:
		return kafka.DeliveryReport{}, ErrPublisherClosed
	}
}

// wait sleeps for d on the lane goroutine; false means the publisher was
// aborted while waiting.
func (p *Publisher) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-p.abort:
		return false
	}
}

func (p *Publisher) aborted() bool {
	select {
	case <-p.abort:
		return true
	default:
		return false
	}
}

func (p *Publisher) report(msg *domain.Message, err error) {
	if p.outcome != nil {
		p.outcome(msg, err)
	}
}

// Pending returns the number of messages queued or in flight per room.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, ln := range p.lanes {
		n += len(ln.queue) + 1
	}
	return n
}

// Close stops accepting messages and waits for every lane to drain. When
// ctx ends first, outstanding retries are abandoned and reported lost.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		close(p.abort)
		<-drained
		return ctx.Err()
	}
}
