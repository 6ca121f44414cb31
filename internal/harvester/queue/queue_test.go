package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const short = 10 * time.Millisecond

func TestOfferAndPoll_PreserveOrder(t *testing.T) {
	q := NewExhaustibleQueue[int](3)
	for i := 1; i <= 3; i++ {
		require.True(t, q.Offer(i, short))
	}
	assert.Equal(t, 3, q.Len())
	for i := 1; i <= 3; i++ {
		item, ok := q.Poll(short)
		require.True(t, ok)
		assert.Equal(t, i, item)
	}
	assert.True(t, q.IsEmpty())
}

func TestOffer_TimesOutWhenFull(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	require.True(t, q.Offer(1, short))
	start := time.Now()
	assert.False(t, q.Offer(2, short))
	assert.GreaterOrEqual(t, time.Since(start), short)
}

func TestOffer_UnblocksWhenConsumed(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	require.True(t, q.Offer(1, short))
	go func() {
		time.Sleep(short)
		_, _ = q.Poll(short)
	}()
	assert.True(t, q.Offer(2, time.Second))
}

func TestPoll_TimesOutWhenEmptyButNotExhausted(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	_, ok := q.Poll(short)
	assert.False(t, ok)
	assert.False(t, q.IsDrained())
}

func TestPoll_ReturnsBufferedItemsAfterExhaustion(t *testing.T) {
	q := NewExhaustibleQueue[int](4)
	require.True(t, q.Offer(1, short))
	require.True(t, q.Offer(2, short))
	q.MarkExhausted()

	for _, expected := range []int{1, 2} {
		item, ok := q.Poll(short)
		require.True(t, ok, "poll must not report empty while items are buffered")
		assert.Equal(t, expected, item)
	}

	assert.True(t, q.IsDrained())
	for i := 0; i < 10; i++ {
		start := time.Now()
		_, ok := q.Poll(time.Hour)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), time.Second, "poll on a drained queue must return immediately")
	}
}

func TestPoll_WakesUpOnExhaustion(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	go func() {
		time.Sleep(short)
		q.MarkExhausted()
	}()
	start := time.Now()
	_, ok := q.Poll(time.Hour)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMarkExhausted_Idempotent(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	q.MarkExhausted()
	q.MarkExhausted()
	assert.True(t, q.IsExhausted())
	select {
	case <-q.Exhausted():
	default:
		t.Fatal("exhausted channel should be closed")
	}
}

func TestOffer_AfterExhaustionPanics(t *testing.T) {
	q := NewExhaustibleQueue[int](1)
	q.MarkExhausted()
	assert.Panics(t, func() { q.Offer(1, short) })
}

func TestConcurrentProducerAndConsumers_DeliverEveryItemOnce(t *testing.T) {
	const items = 500
	q := NewExhaustibleQueue[int](4)

	var mu sync.Mutex
	seen := map[int]int{}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.Poll(short)
				if !ok {
					if q.IsDrained() {
						return
					}
					continue
				}
				mu.Lock()
				seen[item]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < items; i++ {
		for !q.Offer(i, short) {
		}
	}
	q.MarkExhausted()
	wg.Wait()

	assert.Len(t, seen, items)
	for i := 0; i < items; i++ {
		assert.Equal(t, 1, seen[i])
	}
}

func TestCapacityForWorkers(t *testing.T) {
	assert.Equal(t, 4, CapacityForWorkers(1))
	assert.Equal(t, 4, CapacityForWorkers(8))
	assert.Equal(t, 8, CapacityForWorkers(16))
}

func TestEmergencyBrake(t *testing.T) {
	b := NewEmergencyBrake()
	assert.False(t, b.Pulled())
	assert.Nil(t, b.Cause())

	first := errors.New("database went away")
	assert.True(t, b.Pull(first))
	assert.False(t, b.Pull(errors.New("second")))

	assert.True(t, b.Pulled())
	assert.Equal(t, first, b.Cause())
	select {
	case <-b.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}
