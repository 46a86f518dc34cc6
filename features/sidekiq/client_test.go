package sidekiq

import (
	"context"
	"encoding/json"
	"testing"

	"fedipull/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queueConfig(addr string) *config.QueueConfig {
	return &config.QueueConfig{
		Addr:         addr,
		QueueName:    "default",
		JobClass:     "ActivityPub::FetchStatusWorker",
		SidekiqQueue: "pull",
	}
}

func TestEnqueueFetchPushesSidekiqJob(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), queueConfig(mr.Addr()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.EnqueueFetch(context.Background(), "https://remote.example/@alice/1"))

	entries, err := mr.List("queue:default")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var payload struct {
		Class string   `json:"class"`
		Args  []string `json:"args"`
		Queue string   `json:"queue"`
		Retry bool     `json:"retry"`
		JID   string   `json:"jid"`
	}
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &payload))

	assert.Equal(t, "ActivityPub::FetchStatusWorker", payload.Class)
	assert.Equal(t, []string{"https://remote.example/@alice/1"}, payload.Args)
	assert.Equal(t, "pull", payload.Queue)
	assert.True(t, payload.Retry)
	assert.Len(t, payload.JID, 24)
}

func TestEnqueueFetchEachJobGetsOwnJID(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), queueConfig(mr.Addr()))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.EnqueueFetch(ctx, "https://remote.example/@alice/1"))
	require.NoError(t, client.EnqueueFetch(ctx, "https://remote.example/@alice/1"))

	entries, err := mr.List("queue:default")
	require.NoError(t, err)
	require.Len(t, entries, 2, "delivery is at-least-once, no dedup")

	var first, second struct {
		JID string `json:"jid"`
	}
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(entries[1]), &second))
	assert.NotEqual(t, first.JID, second.JID)
}

func TestNewClientFailsWhenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), queueConfig(addr))
	assert.Error(t, err)
}
