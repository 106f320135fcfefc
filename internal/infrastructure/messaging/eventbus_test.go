package messaging

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/studydeck-progression/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(Config{AsyncMode: false})
}

func TestPublish_RoutesByType(t *testing.T) {
	bus := syncBus()

	var awarded, levelUps int
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(e shared.Event) error {
		awarded++
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		levelUps++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("s1", "t1", "task", nil, 15, 15, 1)))
	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("s1", "t2", "task", nil, 15, 30, 1)))

	assert.Equal(t, 2, awarded)
	assert.Equal(t, 0, levelUps)
}

func TestSubscribeAll_SeesEveryEvent(t *testing.T) {
	bus := syncBus()

	var seen []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		seen = append(seen, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("s1", "t1", "task", nil, 15, 15, 1)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("s1", 1, 2)))

	assert.Equal(t, []shared.EventType{shared.EventXPAwarded, shared.EventLevelUp}, seen)
}

func TestPublish_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := syncBus()

	var called bool
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(e shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(e shared.Event) error {
		called = true
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("s1", "t1", "task", nil, 15, 15, 1)))

	assert.True(t, called)
}

func TestPublish_AfterCloseFails(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewXPAwardedEvent("s1", "t1", "task", nil, 15, 15, 1))

	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestPublish_AsyncDelivers(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 4})

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(shared.NewLevelUpEvent("s1", i, i+1)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 10
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Close())
}

func TestMetrics_CountsPublishes(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Subscribe(shared.EventXPAwarded, func(e shared.Event) error { return nil }))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent("s1", "t1", "task", nil, 15, 15, 1)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("s1", 1, 2)))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(1), snap.HandlerExecutions)
	assert.Equal(t, 1.0, snap.HandlerSuccessRate)
}
