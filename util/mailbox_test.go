package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMailbox_LatestValueWins(t *testing.T) {
	mb := NewMailbox[float64]()

	mb.Put("sensor.cpu", 10)
	mb.Put("sensor.cpu", 20)
	mb.Put("sensor.temp", 42)

	got := mb.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, 20.0, got["sensor.cpu"], "later Put should replace the earlier one")
	assert.Equal(t, 42.0, got["sensor.temp"])
}

func TestMailbox_DrainClears(t *testing.T) {
	mb := NewMailbox[string]()

	mb.Put("a", "x")
	assert.True(t, mb.HasPending())

	first := mb.Drain()
	assert.Len(t, first, 1)
	assert.False(t, mb.HasPending())
	assert.Nil(t, mb.Drain(), "second drain should be empty")
}

func TestMailbox_NotificationIsCoalesced(t *testing.T) {
	mb := NewMailbox[int]()

	mb.Put("a", 1)
	mb.Put("b", 2)
	mb.Put("c", 3)

	// Only one notification is pending no matter how many Puts happened.
	<-mb.Channel()
	select {
	case <-mb.Channel():
		t.Fatal("expected a single coalesced notification")
	default:
	}
}

func TestMailbox_DrainConsumesNotification(t *testing.T) {
	mb := NewMailbox[int]()
	mb.Put("a", 1)
	mb.Drain()

	select {
	case <-mb.Channel():
		t.Fatal("notification should have been consumed by Drain")
	default:
	}
}

func TestMailbox_ConcurrentPuts(t *testing.T) {
	mb := NewMailbox[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			mb.Put("key", v)
		}(i)
	}
	wg.Wait()

	got := mb.Drain()
	assert.Len(t, got, 1)
	assert.Contains(t, got, "key")
}
