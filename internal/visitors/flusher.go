package visitors

import (
	"context"
	"sync"
	"time"

	"visitor-tracker/internal/common/logging"
	"visitor-tracker/internal/models"
)

// ActivityStore is the slice of the storage interface the flusher needs.
type ActivityStore interface {
	AppendActivities(ctx context.Context, visitorID string, activities []models.Activity) error
}

// Publisher broadcasts change notifications after a successful flush.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// ActivityChannel is the pub/sub channel flush notifications go out on.
const ActivityChannel = "visitor:activity"

// flushTimeout bounds one whole flush cycle against a stalled store.
const flushTimeout = 30 * time.Second

// Flusher batches activity writes. TrackActivity pushes into per-visitor
// in-memory queues; a background ticker drains them with one durable
// append per visitor chunk. Queues survive failed writes, so delivery is
// at-least-once and relies on idempotent appends at the store.
type Flusher struct {
	store     ActivityStore
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    logging.Logger

	mu     sync.Mutex
	queues map[string][]models.Activity

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewFlusher(store ActivityStore, publisher Publisher, interval time.Duration, batchSize int, logger logging.Logger) *Flusher {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Flusher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		queues:    make(map[string][]models.Activity),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Push queues one activity. Safe to call concurrently with a running
// flush cycle; the snapshot swap in flushOnce guarantees a push is either
// in the drained snapshot or in the fresh queue, never lost.
func (f *Flusher) Push(visitorID string, activity models.Activity) {
	f.mu.Lock()
	f.queues[visitorID] = append(f.queues[visitorID], activity)
	f.mu.Unlock()
}

// QueuedCount reports how many activities are waiting for a visitor.
func (f *Flusher) QueuedCount(visitorID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[visitorID])
}

// Start launches the background flush loop.
func (f *Flusher) Start() {
	f.startOnce.Do(func() {
		go f.run()
	})
}

// Stop halts the loop and drains whatever is still queued.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
		<-f.doneCh
	})
}

func (f *Flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.FlushOnce(context.Background())
		case <-f.stopCh:
			f.FlushOnce(context.Background())
			return
		}
	}
}

// FlushOnce drains all queues in one cycle. The queue map is swapped out
// under the lock so pushes racing the flush land in the fresh map. Failed
// visitor batches are put back at the front of their queue for the next
// cycle.
func (f *Flusher) FlushOnce(ctx context.Context) {
	f.mu.Lock()
	snapshot := f.queues
	f.queues = make(map[string][]models.Activity)
	f.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	type batch struct {
		visitorID  string
		activities []models.Activity
	}

	var batches []batch
	for visitorID, activities := range snapshot {
		for start := 0; start < len(activities); start += f.batchSize {
			end := start + f.batchSize
			if end > len(activities) {
				end = len(activities)
			}
			batches = append(batches, batch{visitorID, activities[start:end]})
		}
	}

	// Bounded in-flight writes: groups of batchSize run concurrently and
	// are awaited before the next group starts.
	for start := 0; start < len(batches); start += f.batchSize {
		end := start + f.batchSize
		if end > len(batches) {
			end = len(batches)
		}

		var wg sync.WaitGroup
		for _, b := range batches[start:end] {
			wg.Add(1)
			go func(b batch) {
				defer wg.Done()
				f.flushBatch(ctx, b.visitorID, b.activities)
			}(b)
		}
		wg.Wait()
	}
}

func (f *Flusher) flushBatch(ctx context.Context, visitorID string, activities []models.Activity) {
	if err := f.store.AppendActivities(ctx, visitorID, activities); err != nil {
		f.logger.Warn("activity flush failed, requeueing batch",
			logging.String("visitor_id", visitorID),
			logging.Int("activities", len(activities)),
			logging.Err(err))
		f.requeue(visitorID, activities)
		return
	}

	f.logger.Debug("activities flushed",
		logging.String("visitor_id", visitorID),
		logging.Int("activities", len(activities)))

	if f.publisher != nil {
		err := f.publisher.Publish(ctx, ActivityChannel, map[string]interface{}{
			"visitor_id": visitorID,
			"count":      len(activities),
			"flushed_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			f.logger.Debug("activity broadcast failed",
				logging.String("visitor_id", visitorID),
				logging.Err(err))
		}
	}
}

// requeue puts a failed batch back ahead of anything pushed since the
// snapshot, preserving append order for the next cycle. The batch is
// copied because it aliases the snapshot's backing array, which sibling
// batches may still be reading.
func (f *Flusher) requeue(visitorID string, activities []models.Activity) {
	f.mu.Lock()
	merged := make([]models.Activity, 0, len(activities)+len(f.queues[visitorID]))
	merged = append(merged, activities...)
	merged = append(merged, f.queues[visitorID]...)
	f.queues[visitorID] = merged
	f.mu.Unlock()
}
