package distribution

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/store"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/database"
)

// receiptRace applies a read receipt right after the consumer's lookup,
// before its save reaches the store.
type receiptRace struct {
	*store.GormMessageStore
	fired bool
}

func (r *receiptRace) FindMessageByID(ctx context.Context, id string) (*domain.Message, error) {
	found, err := r.GormMessageStore.FindMessageByID(ctx, id)
	if err == nil && !r.fired {
		r.fired = true
		read := *found
		read.Status = domain.StatusRead
		if saveErr := r.GormMessageStore.SaveMessage(ctx, &read); saveErr != nil {
			return nil, saveErr
		}
	}
	return found, err
}

func TestConsumerKeepsReceiptAppliedDuringPersist(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chat.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	messages, err := store.NewGormMessageStore(db)
	require.NoError(t, err)

	msg := mustMessage(t, "r1", "hi")
	msg.OriginInstance = "node-2"
	require.NoError(t, messages.SaveMessage(ctx, msg))

	racing := &receiptRace{GormMessageStore: messages}
	c := NewConsumer(&feedSource{}, racing, fanout.NewMemoryBroker(16), ConsumerConfig{InstanceID: "node-1", SuppressSelfEcho: true})
	c.Handle(ctx, recordOf(t, msg))

	require.True(t, racing.fired)
	stored, err := messages.FindMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, stored.Status)
}
