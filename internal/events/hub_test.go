package events

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobengine/internal/domain"
)

func TestHubRoutesByUser(t *testing.T) {
	hub := NewHub()
	mine, cancelMine := hub.Subscribe("u1")
	defer cancelMine()
	theirs, cancelTheirs := hub.Subscribe("u2")
	defer cancelTheirs()

	hub.Publish(context.Background(), Event{JobID: "j1", UserID: "u1", State: domain.JobStateQueued})

	select {
	case ev := <-mine:
		assert.Equal(t, "j1", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case ev := <-theirs:
		t.Fatalf("unexpected event for other user: %+v", ev)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("u1")
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(context.Background(), Event{UserID: "u1"})
	}
	assert.Len(t, ch, subscriberBuffer)

	cancel()
	cancel()
	assert.Zero(t, hub.Subscribers("u1"))
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("u1")
	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := hub.Subscribe("u1")
	_, open = <-late
	assert.False(t, open)
}

type fakeRedis struct {
	channel string
	payload []byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func TestRedisPublisherRoundTrip(t *testing.T) {
	fake := &fakeRedis{}
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	NewRedisPublisher(fake, zerolog.Nop()).Publish(context.Background(), Event{
		JobID: "j1", UserID: "u1", Kind: domain.JobKindImageCompose, State: domain.JobStateCompleted, At: at,
	})
	require.Equal(t, "jobengine:events:u1", fake.channel)

	ev, err := decodeMessage(fake.channel, string(fake.payload))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, ev.State)
	assert.Equal(t, "u1", ev.UserID)
	assert.True(t, ev.At.Equal(at))

	_, err = decodeMessage(fake.channel, "{")
	assert.Error(t, err)
}
