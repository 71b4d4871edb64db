package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weiawesome/wes-io-live/chat-relay/internal/audit"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

type presenceTracker struct {
	store        store.PresenceStore
	broker       fanout.Broker
	instanceID   string
	storeTimeout time.Duration
	now          func() time.Time

	// connectionID -> identity; only touched through OnConnect/OnDisconnect.
	bindings sync.Map
	count    atomic.Int64
}

func NewPresenceTracker(
	presence store.PresenceStore,
	broker fanout.Broker,
	instanceID string,
	storeTimeout time.Duration,
) PresenceTracker {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &presenceTracker{
		store:        presence,
		broker:       broker,
		instanceID:   instanceID,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

func (t *presenceTracker) OnConnect(ctx context.Context, connectionID, identity string) {
	if connectionID == "" || identity == "" {
		return
	}

	if _, loaded := t.bindings.Swap(connectionID, identity); !loaded {
		metrics.SessionBindings.Set(float64(t.count.Add(1)))
	}

	ctx = log.WithFields(ctx, log.FieldConnectionID, connectionID, log.FieldIdentity, identity)
	t.update(ctx, identity, true)
}

func (t *presenceTracker) OnDisconnect(ctx context.Context, connectionID string) {
	if connectionID == "" {
		return
	}

	v, loaded := t.bindings.LoadAndDelete(connectionID)
	if !loaded {
		return
	}
	metrics.SessionBindings.Set(float64(t.count.Add(-1)))

	identity := v.(string)
	ctx = log.WithFields(ctx, log.FieldConnectionID, connectionID, log.FieldIdentity, identity)
	t.update(ctx, identity, false)
}

// update writes and announces one transition. Lookup failures skip both.
func (t *presenceTracker) update(ctx context.Context, identity string, online bool) {
	l := log.Ctx(ctx)

	storeCtx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()

	rec, err := t.store.FindPresence(storeCtx, identity)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound) && online:
		rec = &domain.PresenceRecord{Identity: identity}
	case errors.Is(err, domain.ErrNotFound):
		l.Warn().Msg("no presence record for disconnecting identity, skipping update")
		return
	default:
		metrics.StoreErrors.WithLabelValues("presence_find").Inc()
		l.Error().Err(err).Msg("failed to load presence, skipping update")
		return
	}

	rec.Online = online
	rec.LastSeen = t.now().UTC()
	rec.InstanceID = t.instanceID

	if err := t.store.SavePresence(storeCtx, rec); err != nil {
		metrics.StoreErrors.WithLabelValues("presence_save").Inc()
		l.Error().Err(err).Msg("failed to save presence, skipping broadcast")
		return
	}

	t.broadcast(ctx, rec)
}

func (t *presenceTracker) broadcast(ctx context.Context, rec *domain.PresenceRecord) {
	l := log.Ctx(ctx)

	state := "offline"
	if rec.Online {
		state = "online"
	}
	metrics.PresenceTransitions.WithLabelValues(state).Inc()

	payload, err := json.Marshal(rec.Event())
	if err != nil {
		l.Error().Err(err).Msg("failed to encode presence event")
		return
	}
	if err := t.broker.Publish(ctx, domain.PresenceChannel, payload); err != nil {
		l.Error().Err(errors.Join(domain.ErrFanoutFailed, err)).Msg("failed to broadcast presence")
		return
	}
	l.Debug().Bool("online", rec.Online).Msg("presence updated")
}

// Reconcile keeps going past identities it cannot update; their errors are
// joined into the result.
func (t *presenceTracker) Reconcile(ctx context.Context) error {
	listCtx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	records, err := t.store.ListOnline(listCtx, t.instanceID)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list online presence: %w", err)
	}

	live := make(map[string]struct{})
	t.bindings.Range(func(_, v any) bool {
		live[v.(string)] = struct{}{}
		return true
	})

	var failed []error
	reconciled := 0
	for _, rec := range records {
		if _, ok := live[rec.Identity]; ok {
			continue
		}
		recCtx := log.WithFields(ctx, log.FieldIdentity, rec.Identity)
		rec.Online = false
		rec.LastSeen = t.now().UTC()

		saveCtx, cancel := context.WithTimeout(recCtx, t.storeTimeout)
		err := t.store.SavePresence(saveCtx, rec)
		cancel()
		if err != nil {
			metrics.StoreErrors.WithLabelValues("presence_reconcile").Inc()
			l := log.Ctx(recCtx)
			l.Error().Err(err).Msg("failed to mark stale identity offline")
			failed = append(failed, fmt.Errorf("failed to mark %s offline: %w", rec.Identity, err))
			continue
		}
		t.broadcast(recCtx, rec)
		reconciled++
	}

	if reconciled > 0 {
		audit.LogTarget(ctx, audit.ActionReconcile, "", t.instanceID, fmt.Sprintf("marked %d stale identities offline", reconciled))
	}
	return errors.Join(failed...)
}

func (t *presenceTracker) Lookup(ctx context.Context, identity string) (*domain.PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.storeTimeout)
	defer cancel()
	return t.store.FindPresence(ctx, identity)
}

func (t *presenceTracker) Connections() int {
	return int(t.count.Load())
}
