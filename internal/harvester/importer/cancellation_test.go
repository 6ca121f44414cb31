package importer

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/vineyard-genomics/harvester/internal/common/runcontext"
	"github.com/vineyard-genomics/harvester/internal/harvester/changeset"
	"github.com/vineyard-genomics/harvester/internal/harvester/enrich"
	"github.com/vineyard-genomics/harvester/internal/harvester/metrics"
	"github.com/vineyard-genomics/harvester/internal/harvester/model"
	"github.com/vineyard-genomics/harvester/internal/harvester/mutations"
	"github.com/vineyard-genomics/harvester/internal/harvester/ownership"
	"github.com/vineyard-genomics/harvester/internal/harvester/queue"
	"github.com/vineyard-genomics/harvester/internal/harvester/source"
	"github.com/vineyard-genomics/harvester/internal/harvester/submitter"
	"github.com/vineyard-genomics/harvester/internal/harvester/worker"
)

// blockingEnricher holds every batch until release is closed and then fails it.
type blockingEnricher struct {
	calls   int32
	started chan string
	release chan struct{}
}

func (b *blockingEnricher) Enrich(_ context.Context, _ string, records []*model.Record) error {
	atomic.AddInt32(&b.calls, 1)
	b.started <- records[0].Id
	<-b.release
	return &enrich.AlignmentFailedError{Err: errors.New("released")}
}

func receiveWithin[T any](t *testing.T, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for "+what)
	}
	var zero T
	return zero
}

func TestImporter_ProducerStopsOfferingOnceBrakeIsPulled(t *testing.T) {
	env := newTestEnv(t)
	config := env.config(model.ImportModeAppend, 1)
	config.OfferTimeout = 20 * time.Millisecond
	imp := env.importer(config, &fakeEnricher{}, clock.RealClock{})

	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, entry(t, fmt.Sprintf("EPI_%d", i), "hCoV-19/Switzerland/1/2021", "B.1", "ACGTACGT"))
	}
	q := queue.NewExhaustibleQueue[*model.Batch](2)
	brake := queue.NewEmergencyBrake()
	state := &runState{existingIds: map[string]bool{}}
	produced := make(chan produceResult, 1)
	go func() {
		produced <- imp.produce(runcontext.Background(), state, source.NewLineReader(dataPackage(lines...)), q, brake, &results{})
	}()

	// The queue is full and the producer is retrying its third batch.
	require.Eventually(t, func() bool { return q.Len() == 2 }, 5*time.Second, time.Millisecond)
	pulledAt := time.Now()
	brake.Pull(errors.New("stop"))
	_, ok := q.Poll(time.Second)
	require.True(t, ok)

	result := receiveWithin(t, produced, 5*time.Second, "the producer")
	assert.Less(t, time.Since(pulledAt), config.OfferTimeout+time.Second)
	// Only the offer already in flight when the brake was pulled may still land.
	assert.LessOrEqual(t, q.Len(), 2)
	assert.LessOrEqual(t, result.entries, 4)

	depth := q.Len()
	time.Sleep(3 * config.OfferTimeout)
	assert.Equal(t, depth, q.Len())
	assert.False(t, q.IsExhausted())
}

func TestImporter_WorkersStopOnceBrakeIsPulled(t *testing.T) {
	env := newTestEnv(t)
	config := env.config(model.ImportModeAppend, 1)
	config.PollTimeout = 50 * time.Millisecond
	imp := env.importer(config, &fakeEnricher{}, clock.RealClock{})

	enricher := &blockingEnricher{started: make(chan string, 4), release: make(chan struct{})}
	q := queue.NewExhaustibleQueue[*model.Batch](4)
	brake := queue.NewEmergencyBrake()
	res := &results{}
	exited := make(chan int, 4)
	for i := 0; i < 4; i++ {
		w := worker.New(i, t.TempDir(), model.ImportModeAppend,
			changeset.NewDetector(env.store, submitter.NoopFetcher{}, false),
			enricher, mutations.NewFinder(reference, nil), env.store, ownership.NewParser("ETHZ"), metrics.NewNoopMetrics())
		go func() {
			imp.runWorker(runcontext.Background(), w, q, brake, res)
			exited <- w.Id()
		}()
	}
	batch := func(id string) *model.Batch {
		return model.NewBatch([]*model.Record{{Id: id, SeqOriginal: "ACGTACGT"}})
	}

	// Two workers are busy enriching, two are idle polling.
	require.True(t, q.Offer(batch("EPI_1"), time.Second))
	require.True(t, q.Offer(batch("EPI_2"), time.Second))
	receiveWithin(t, enricher.started, 5*time.Second, "the first batch")
	receiveWithin(t, enricher.started, 5*time.Second, "the second batch")

	pulledAt := time.Now()
	brake.Pull(errors.New("stop"))
	receiveWithin(t, exited, 5*time.Second, "an idle worker")
	receiveWithin(t, exited, 5*time.Second, "an idle worker")
	assert.Less(t, time.Since(pulledAt), config.PollTimeout+time.Second)

	// Batches still queued after the pull are never picked up.
	require.True(t, q.Offer(batch("EPI_3"), time.Second))
	require.True(t, q.Offer(batch("EPI_4"), time.Second))
	releasedAt := time.Now()
	close(enricher.release)
	receiveWithin(t, exited, 5*time.Second, "a busy worker")
	receiveWithin(t, exited, 5*time.Second, "a busy worker")
	assert.Less(t, time.Since(releasedAt), config.PollTimeout+time.Second)

	assert.Equal(t, int32(2), atomic.LoadInt32(&enricher.calls))
	assert.Equal(t, 2, q.Len())
	reports, errs := res.snapshot()
	assert.Empty(t, errs)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.Equal(t, 1, r.Failed)
	}
}
