package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageProgress(t *testing.T) {
	stages := []string{"queued", "cloning", "parsing", "generating", "patching", "done"}

	for i, stage := range stages {
		progress, ok := StageProgress[stage]
		assert.True(t, ok, "Stage %s should have progress value", stage)
		assert.NotEmpty(t, StageMessages[stage], "Stage %s should have message", stage)
		if i > 0 {
			assert.Less(t, StageProgress[stages[i-1]], progress)
		}
	}
	assert.Equal(t, 100, StageProgress["done"])
}

func TestProgressMessage_OmitEmpty(t *testing.T) {
	msg := &ProgressMessage{
		OwnerID: 1,
		Status:  "running",
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "owner_id")
	assert.NotContains(t, raw, "message")
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "pull_request_url")
}

func TestPublisherSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewPublisher(client)
	subscriber := NewSubscriber(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *ProgressMessage, 1)
	go func() {
		subscriber.Subscribe(ctx, func(msg *ProgressMessage) {
			received <- msg
		})
	}()

	// 等待订阅建立
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(ChannelJobProgress)[ChannelJobProgress] > 0
	}, 2*time.Second, 10*time.Millisecond)

	err = publisher.PublishProgress(ctx, &ProgressMessage{
		OwnerID: 123,
		JobID:   789,
		Status:  "running",
		Stage:   "generating",
	})
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, int64(123), msg.OwnerID)
		assert.Equal(t, int64(789), msg.JobID)
		assert.Equal(t, "job_progress", msg.Type)
		assert.Equal(t, 60, msg.Progress)
		assert.Equal(t, StageMessages["generating"], msg.Message)
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}
