package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/kafka"
)

func recordOf(t *testing.T, msg *domain.Message) kafka.Record {
	t.Helper()
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Record{Key: msg.RoomID, Value: value}
}

func nextMessage(t *testing.T, s *fanout.Subscription) domain.Message {
	t.Helper()
	select {
	case p := <-s.C:
		var msg domain.Message
		require.NoError(t, json.Unmarshal(p, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no fan-out")
		return domain.Message{}
	}
}

func newTestConsumer(st *memStore, broker fanout.Broker, suppress bool) *Consumer {
	return NewConsumer(&feedSource{}, st, broker, ConsumerConfig{
		InstanceID:       "node-1",
		SuppressSelfEcho: suppress,
		Workers:          4,
	})
}

func TestConsumerPersistsAndFansOut(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	broker := fanout.NewMemoryBroker(16)
	sub, err := broker.Subscribe(ctx, domain.RoomChannel("r1"))
	require.NoError(t, err)

	msg := mustMessage(t, "r1", "hi")
	msg.OriginInstance = "node-2"
	newTestConsumer(st, broker, true).Handle(ctx, recordOf(t, msg))

	stored, ok := st.get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, msg.ID, nextMessage(t, sub).ID)
}

func TestConsumerDuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newTestConsumer(st, fanout.NewMemoryBroker(16), true)

	msg := mustMessage(t, "r1", "hi")
	c.Handle(ctx, recordOf(t, msg))
	c.Handle(ctx, recordOf(t, msg))

	assert.Len(t, st.messages, 1)
}

func TestConsumerSuppressesSelfEcho(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	broker := fanout.NewMemoryBroker(16)
	sub, err := broker.Subscribe(ctx, domain.RoomChannel("r1"))
	require.NoError(t, err)

	own := mustMessage(t, "r1", "mine") // origin node-1
	newTestConsumer(st, broker, true).Handle(ctx, recordOf(t, own))

	_, ok := st.get(own.ID)
	assert.True(t, ok, "own messages are still persisted")
	assert.Empty(t, sub.C)

	newTestConsumer(st, broker, false).Handle(ctx, recordOf(t, own))
	assert.Equal(t, own.ID, nextMessage(t, sub).ID)
}

func TestConsumerNeverRegressesStatus(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	broker := fanout.NewMemoryBroker(16)
	sub, err := broker.Subscribe(ctx, domain.RoomChannel("r1"))
	require.NoError(t, err)

	msg := mustMessage(t, "r1", "hi")
	msg.OriginInstance = "node-2"
	read := *msg
	read.Status = domain.StatusRead
	require.NoError(t, st.SaveMessage(ctx, &read))

	newTestConsumer(st, broker, true).Handle(ctx, recordOf(t, msg))

	stored, _ := st.get(msg.ID)
	assert.Equal(t, domain.StatusRead, stored.Status)
	assert.Equal(t, domain.StatusRead, nextMessage(t, sub).Status)
}

func TestConsumerStoreFailureDropsRecordOnly(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	broker := fanout.NewMemoryBroker(16)
	sub, err := broker.Subscribe(ctx, domain.RoomChannel("r1"))
	require.NoError(t, err)
	c := newTestConsumer(st, broker, true)

	st.setSaveErr(domain.ErrStoreUnavailable)
	lost := mustMessage(t, "r1", "lost")
	lost.OriginInstance = "node-2"
	c.Handle(ctx, recordOf(t, lost))
	assert.Empty(t, sub.C)

	st.setSaveErr(nil)
	next := mustMessage(t, "r1", "next")
	next.OriginInstance = "node-2"
	c.Handle(ctx, recordOf(t, next))
	assert.Equal(t, next.ID, nextMessage(t, sub).ID)
}

func TestConsumerSkipsMalformedAndRoomless(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	c := newTestConsumer(st, fanout.NewMemoryBroker(16), true)

	c.Handle(ctx, kafka.Record{Key: "r1", Value: []byte("{not json")})
	assert.Equal(t, 0, st.saves)

	c.Handle(ctx, kafka.Record{Value: []byte(`{"id":"01HX","sender":"a","content":"x","status":"SENT"}`)})
	_, ok := st.get("01HX")
	assert.True(t, ok, "roomless messages are persisted but not fanned out")
}

func TestConsumerDropsMessageWithoutID(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	broker := fanout.NewMemoryBroker(16)
	sub, err := broker.Subscribe(ctx, domain.RoomChannel("r1"))
	require.NoError(t, err)

	c := newTestConsumer(st, broker, true)
	c.Handle(ctx, kafka.Record{Key: "r1", Value: []byte(`{"room_id":"r1","sender":"a","content":"x","origin_instance":"node-2"}`)})

	assert.Equal(t, 0, st.saves)
	assert.Empty(t, sub.C)
}

func TestConsumerRunQueuesRecordsPolledDuringShutdown(t *testing.T) {
	st := newMemStore()
	msg := mustMessage(t, "r1", "late")
	msg.OriginInstance = "node-2"

	src := &stoppedSource{records: []kafka.Record{recordOf(t, msg)}}
	c := NewConsumer(src, st, fanout.NewMemoryBroker(16), ConsumerConfig{InstanceID: "node-1", Workers: 2})
	require.NoError(t, c.Run(context.Background()))

	_, ok := st.get(msg.ID)
	assert.True(t, ok)
}

func TestConsumerRunKeepsPerRoomOrder(t *testing.T) {
	st := newMemStore()
	broker := fanout.NewMemoryBroker(1024)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rooms := []string{"r1", "r2", "r3", "r4", "r5"}
	subs := make(map[string]*fanout.Subscription)
	for _, room := range rooms {
		sub, err := broker.Subscribe(ctx, domain.RoomChannel(room))
		require.NoError(t, err)
		subs[room] = sub
	}

	src := &feedSource{}
	want := make(map[string][]string)
	for i := 0; i < 100; i++ {
		room := rooms[i%len(rooms)]
		msg := mustMessage(t, room, fmt.Sprintf("%d", i))
		msg.OriginInstance = "node-2"
		want[room] = append(want[room], msg.ID)
		src.records = append(src.records, recordOf(t, msg))
	}

	c := NewConsumer(src, st, broker, ConsumerConfig{InstanceID: "node-1", SuppressSelfEcho: true, Workers: 3})
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, room := range rooms {
		var got []string
		for range want[room] {
			got = append(got, nextMessage(t, subs[room]).ID)
		}
		assert.Equal(t, want[room], got, "room %s", room)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
