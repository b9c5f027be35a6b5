package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theoremus-urban-solutions/transit-departures/transit"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRead_EmptyUntilFirstStore(t *testing.T) {
	c := New()
	_, ok := c.Read("s1")
	assert.False(t, ok)

	c.Store("s1", []transit.Departure{{Line: "U3"}}, nil, t0)
	snap, ok := c.Read("s1")
	require.True(t, ok)
	assert.Equal(t, "U3", snap.Departures[0].Line)
	assert.Equal(t, t0, snap.FetchedAt)
}

func TestStore_LastWriteWinsAndCopies(t *testing.T) {
	c := New()
	deps := []transit.Departure{{Line: "U3"}}
	first := c.Store("s1", deps, nil, t0)
	deps[0].Line = "mutated"

	snap, _ := c.Read("s1")
	assert.Equal(t, "U3", snap.Departures[0].Line, "caller mutation must not leak into the cache")

	c.Store("s1", []transit.Departure{{Line: "U6"}}, nil, t0.Add(time.Minute))
	snap, _ = c.Read("s1")
	assert.Equal(t, "U6", snap.Departures[0].Line)
	assert.Equal(t, "U3", first.Departures[0].Line, "old snapshot stays intact for readers holding it")
}

func TestStoreDeparturesKeepsMessages(t *testing.T) {
	c := New()
	c.StoreMessages("s1", []transit.Message{{Title: "Works"}}, t0)
	_, ok := c.Read("s1")
	assert.False(t, ok, "messages alone do not make departures available")

	c.StoreDepartures("s1", []transit.Departure{{Line: "U3"}}, t0.Add(time.Minute))
	snap, ok := c.Read("s1")
	require.True(t, ok)
	assert.Len(t, snap.Messages, 1)
	assert.Equal(t, t0, snap.MessagesFetchedAt)

	c.StoreMessages("s1", nil, t0.Add(2*time.Minute))
	snap, _ = c.Read("s1")
	assert.Len(t, snap.Departures, 1)
	assert.Empty(t, snap.Messages)
}

func TestSnapshotStaleness(t *testing.T) {
	snap := &Snapshot{FetchedAt: t0}
	assert.Equal(t, 3*time.Minute, snap.Age(t0.Add(3*time.Minute)))
	assert.False(t, snap.StaleAt(t0.Add(time.Minute), 2*time.Minute))
	assert.True(t, snap.StaleAt(t0.Add(3*time.Minute), 2*time.Minute))
	assert.False(t, snap.StaleAt(t0.Add(time.Hour), 0))
}

func TestDeleteAndStations(t *testing.T) {
	c := New()
	c.Store("b", nil, nil, t0)
	c.Store("a", nil, nil, t0)
	assert.Equal(t, []string{"a", "b"}, c.Stations())
	c.Delete("a")
	assert.Equal(t, []string{"b"}, c.Stations())
}

func TestConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	c := New()
	c.Store("s1", []transit.Departure{{Line: "A"}, {Line: "A"}}, nil, t0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			line := "A"
			if i%2 == 0 {
				line = "B"
			}
			c.Store("s1", []transit.Departure{{Line: line}, {Line: line}}, nil, t0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap, ok := c.Read("s1")
			if assert.True(t, ok) {
				assert.Equal(t, snap.Departures[0].Line, snap.Departures[1].Line)
			}
		}
	}()
	wg.Wait()
}
