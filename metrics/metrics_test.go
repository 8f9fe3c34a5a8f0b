package metrics

import (
	"sync"
	"testing"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	var c Counters
	c.MessagesSent.Add(3)
	c.WrapsRejected.Add(1)

	snap := c.Snapshot()
	if snap.MessagesSent != 3 || snap.WrapsRejected != 1 || snap.DuplicatesDropped != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCountersConcurrentIncrement(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.WrapsReceived.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().WrapsReceived; got != 5000 {
		t.Errorf("WrapsReceived = %d, want 5000", got)
	}
}
