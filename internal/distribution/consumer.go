package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/kafka"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

const workerBuffer = 256

// ConsumerConfig tunes the consumer side of distribution.
type ConsumerConfig struct {
	InstanceID       string
	SuppressSelfEcho bool
	Workers          int
	StoreTimeout     time.Duration
}

// Consumer applies records from the transport to the local store and
// fans them out to local subscribers. Records are routed to a fixed worker
// by key hash, so one room is processed in order while rooms run in parallel.
type Consumer struct {
	source kafka.Consumer
	store  store.MessageStore
	broker fanout.Broker
	cfg    ConsumerConfig
}

func NewConsumer(source kafka.Consumer, messages store.MessageStore, broker fanout.Broker, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Consumer{
		source: source,
		store:  messages,
		broker: broker,
		cfg:    cfg,
	}
}

// Run blocks until ctx ends or the transport fails fatally. Queued records
// are finished before it returns.
func (c *Consumer) Run(ctx context.Context) error {
	// Records already handed to a worker finish even after ctx ends.
	workCtx := context.WithoutCancel(ctx)

	workers := make([]chan kafka.Record, c.cfg.Workers)
	var wg sync.WaitGroup
	for i := range workers {
		workers[i] = make(chan kafka.Record, workerBuffer)
		wg.Add(1)
		go func(in <-chan kafka.Record) {
			defer wg.Done()
			for rec := range in {
				c.Handle(workCtx, rec)
			}
		}(workers[i])
	}

	// A polled record is always queued. Workers drain until the channels
	// close, so this send cannot block forever.
	err := c.source.Run(ctx, func(_ context.Context, rec kafka.Record) {
		workers[c.workerFor(rec.Key)] <- rec
	})

	for _, w := range workers {
		close(w)
	}
	wg.Wait()
	return err
}

func (c *Consumer) workerFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(c.cfg.Workers))
}

// Handle processes one record. Every failure is logged and the record is
// dropped for this instance; nothing is retried here.
func (c *Consumer) Handle(ctx context.Context, rec kafka.Record) {
	l := log.L().With().
		Int32(log.FieldPartition, rec.Partition).
		Int64(log.FieldOffset, rec.Offset).
		Logger()

	var msg domain.Message
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		metrics.MessagesConsumed.WithLabelValues("decode_error").Inc()
		l.Warn().Err(err).Msg("failed to decode distributed message")
		return
	}
	if msg.ID == "" {
		metrics.MessagesConsumed.WithLabelValues("missing_id").Inc()
		l.Warn().Msg("dropping distributed message without id")
		return
	}
	if !msg.Status.Valid() {
		msg.Status = domain.StatusSent
	}

	l = l.With().Str(log.FieldMessageID, msg.ID).Str(log.FieldRoomID, msg.RoomID).Logger()

	if err := c.persist(ctx, &msg); err != nil {
		metrics.MessagesConsumed.WithLabelValues("store_error").Inc()
		metrics.StoreErrors.WithLabelValues("consumer_save").Inc()
		l.Error().Err(err).Msg("failed to persist distributed message")
		return
	}

	if msg.RoomID == "" {
		metrics.MessagesConsumed.WithLabelValues("delivered").Inc()
		return
	}

	if c.cfg.SuppressSelfEcho && msg.OriginInstance == c.cfg.InstanceID {
		metrics.MessagesConsumed.WithLabelValues("self_echo").Inc()
		l.Debug().Msg("skipping local fan-out of own message")
		return
	}

	c.fanout(ctx, l, &msg)
}

// persist lifts the fan-out copy to the stored status. The store itself
// refuses to lower a status, so a receipt landing between the lookup and the
// save is kept.
func (c *Consumer) persist(ctx context.Context, msg *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	existing, err := c.store.FindMessageByID(ctx, msg.ID)
	switch {
	case err == nil:
		msg.Status = domain.Max(existing.Status, msg.Status)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return err
	}

	return c.store.SaveMessage(ctx, msg)
}

func (c *Consumer) fanout(ctx context.Context, l zerolog.Logger, msg *domain.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.MessagesConsumed.WithLabelValues("fanout_error").Inc()
		l.Error().Err(err).Msg("failed to encode message for fan-out")
		return
	}

	if err := c.broker.Publish(ctx, domain.RoomChannel(msg.RoomID), payload); err != nil {
		metrics.MessagesConsumed.WithLabelValues("fanout_error").Inc()
		l.Error().Err(errors.Join(domain.ErrFanoutFailed, err)).Msg("failed to fan out distributed message")
		return
	}
	metrics.MessagesConsumed.WithLabelValues("delivered").Inc()
}
