package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-realtime-service/pkg/realtime"
)

func TestRegistry_SubscribeAndMembers(t *testing.T) {
	reg := New()
	task42 := realtime.TaskTopic("42")

	t.Run("Success - subscriber is listed until unsubscribe", func(t *testing.T) {
		// Arrange
		reg.Register("conn-a")

		// Act
		reg.Subscribe("conn-a", task42)

		// Assert
		assert.Equal(t, []string{"conn-a"}, reg.MembersOf(task42))

		reg.Unsubscribe("conn-a", task42)
		assert.Empty(t, reg.MembersOf(task42))
	})

	t.Run("Success - unregister drops every membership", func(t *testing.T) {
		reg.Register("conn-b")
		reg.Subscribe("conn-b", task42)
		reg.Subscribe("conn-b", realtime.UserTopic("bob"))

		reg.Unregister("conn-b")

		assert.Empty(t, reg.MembersOf(task42))
		assert.Empty(t, reg.MembersOf(realtime.UserTopic("bob")))
		assert.Nil(t, reg.Topics("conn-b"))
	})

	t.Run("Success - unknown connection ids are no-ops", func(t *testing.T) {
		reg.Subscribe("ghost", task42)
		reg.Unsubscribe("ghost", task42)
		reg.Unregister("ghost")
		reg.Bind("ghost", "nobody")
		reg.Touch("ghost")

		assert.Empty(t, reg.MembersOf(task42))
		_, ok := reg.Info("ghost")
		assert.False(t, ok)
	})
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := New()
	reg.Register("conn-a")
	reg.Subscribe("conn-a", realtime.TaskTopic("7"))
	before := reg.Topics("conn-a")

	reg.Register("conn-a")

	assert.Equal(t, before, reg.Topics("conn-a"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RegisterJoinsBroadcast(t *testing.T) {
	reg := New()
	reg.Register("conn-a")
	reg.Register("conn-b")

	assert.Equal(t, []string{"conn-a", "conn-b"}, reg.MembersOf(realtime.TopicBroadcast))
}

func TestRegistry_SnapshotIncludesOwner(t *testing.T) {
	reg := New()
	topic := realtime.TaskTopic("42")
	reg.Register("conn-b")
	reg.Register("conn-a")
	reg.Bind("conn-a", "alice")
	reg.Subscribe("conn-a", topic)
	reg.Subscribe("conn-b", topic)

	snapshot := reg.Snapshot(topic)

	require.Len(t, snapshot, 2)
	assert.Equal(t, Member{ConnectionID: "conn-a", UserID: "alice"}, snapshot[0])
	assert.Equal(t, Member{ConnectionID: "conn-b"}, snapshot[1])
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	reg := New()
	topic := realtime.UserTopic("alice")
	reg.Register("conn-a")
	reg.Subscribe("conn-a", topic)

	members := reg.MembersOf(topic)
	reg.Register("conn-b")
	reg.Subscribe("conn-b", topic)

	assert.Equal(t, []string{"conn-a"}, members)
	assert.Len(t, reg.MembersOf(topic), 2)
}

func TestRegistry_ExpireIdle(t *testing.T) {
	reg := New()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	reg.Register("stale")
	reg.Subscribe("stale", realtime.TaskTopic("1"))
	now = now.Add(30 * time.Second)
	reg.Register("fresh")
	now = now.Add(40 * time.Second)
	reg.Touch("fresh")

	expired := reg.ExpireIdle(time.Minute)

	assert.Equal(t, []string{"stale"}, expired)
	assert.Empty(t, reg.MembersOf(realtime.TaskTopic("1")))
	_, ok := reg.Info("fresh")
	assert.True(t, ok)
}

func TestRegistry_ConcurrentMutationAndSnapshot(t *testing.T) {
	reg := New()
	topic := realtime.TaskTopic("hot")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("conn-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register(id)
			reg.Subscribe(id, topic)
			reg.Unsubscribe(id, topic)
			reg.Subscribe(id, topic)
			if len(id)%2 == 0 {
				reg.Unregister(id)
			}
		}()
		go func() {
			defer wg.Done()
			for _, m := range reg.Snapshot(topic) {
				assert.NotEmpty(t, m.ConnectionID)
			}
		}()
	}
	wg.Wait()

	for _, id := range reg.MembersOf(topic) {
		topics := reg.Topics(id)
		assert.Contains(t, topics, topic, "member %s must list the topic it belongs to", id)
	}
}
