package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerKeepsSubmissionOrderPerIdentity(t *testing.T) {
	seq := newSequencer()

	const jobs = 500
	var mu sync.Mutex
	var got []int
	for i := 0; i < jobs; i++ {
		i := i
		seq.Submit(42, func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	seq.Close()

	require.Len(t, got, jobs)
	for i, v := range got {
		require.Equal(t, i, v, "job at position %d ran out of order", i)
	}
}

func TestSequencerIdentitiesRunIndependently(t *testing.T) {
	seq := newSequencer()

	release := make(chan struct{})
	seq.Submit(1, func() { <-release })

	done := make(chan struct{})
	seq.Submit(2, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second identity blocked behind the first")
	}
	close(release)
	seq.Close()
}

func TestSequencerInterleavedIdentitiesStayOrdered(t *testing.T) {
	seq := newSequencer()

	var mu sync.Mutex
	got := map[int64][]int{}
	for i := 0; i < 100; i++ {
		for _, id := range []int64{1, 2, 3} {
			id, i := id, i
			seq.Submit(id, func() {
				mu.Lock()
				got[id] = append(got[id], i)
				mu.Unlock()
			})
		}
	}
	seq.Close()

	for _, id := range []int64{1, 2, 3} {
		require.Len(t, got[id], 100)
		for i, v := range got[id] {
			assert.Equal(t, i, v)
		}
	}
}
