package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("async")

// DefaultQueueCapacity is the capacity of queues created with a non positive capacity
const DefaultQueueCapacity = 250

// ErrClosed is returned when adding to a closed queue
var ErrClosed = errors.New("async: queue is closed")

// Queue is a bounded queue connecting producers and consumers
type Queue[E any] struct {
	id    string
	items chan E
	done  chan struct{}
	once  sync.Once

	mu                 sync.Mutex
	producers          map[any]struct{}
	closeAutomatically bool

	addSuccess metrics.Counter
	addFailure metrics.Counter
	addWait    metrics.Timer
	removed    metrics.Counter
	removeWait metrics.Timer
}

// NewQueue creates a queue that holds at most capacity items
func NewQueue[E any](capacity int) *Queue[E] {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	q := &Queue[E]{
		id:         uuid.NewString(),
		items:      make(chan E, capacity),
		done:       make(chan struct{}),
		producers:  map[any]struct{}{},
		addSuccess: metrics.NewCounter(),
		addFailure: metrics.NewCounter(),
		addWait:    metrics.NewTimer(),
		removed:    metrics.NewCounter(),
		removeWait: metrics.NewTimer(),
	}
	log.Debugf("creating queue [%s]", q.id)
	return q
}

func (q *Queue[E]) String() string {
	return "queue[" + q.id + "]"
}

// Add puts item into the queue, waiting while the queue is full
func (q *Queue[E]) Add(ctx context.Context, item E) error {
	if q.IsClosed() {
		q.addFailure.Inc(1)
		return ErrClosed
	}

	start := time.Now()
	defer q.addWait.UpdateSince(start)

	select {
	case q.items <- item:
		q.addSuccess.Inc(1)
		return nil
	case <-q.done:
		q.addFailure.Inc(1)
		return ErrClosed
	case <-ctx.Done():
		q.addFailure.Inc(1)
		return ctx.Err()
	}
}

// Remove takes the next item, waiting while the queue is empty. It returns
// false once the queue is closed and drained.
func (q *Queue[E]) Remove(ctx context.Context) (E, bool, error) {
	var zero E

	start := time.Now()
	defer q.removeWait.UpdateSince(start)

	select {
	case item := <-q.items:
		q.removed.Inc(1)
		return item, true, nil
	case <-q.done:
		select {
		case item := <-q.items:
			q.removed.Inc(1)
			return item, true, nil
		default:
			return zero, false, nil
		}
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

// Len returns the number of queued items
func (q *Queue[E]) Len() int {
	return len(q.items)
}

// --------------------------------------------------------------------------
// Producers and Closing
// --------------------------------------------------------------------------

// AddProducer registers a producer. Queues that close automatically stay open
// while producers are registered.
func (q *Queue[E]) AddProducer(producer any) {
	log.Debugf("adding producer [%v] to %s", producer, q)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.producers[producer] = struct{}{}
}

// RemoveProducer unregisters a producer and closes the queue if it was the last
// one and the queue closes automatically
func (q *Queue[E]) RemoveProducer(producer any) {
	log.Debugf("removing producer [%v] from %s", producer, q)
	q.mu.Lock()
	delete(q.producers, producer)
	closeNow := q.closeAutomatically && len(q.producers) == 0
	q.mu.Unlock()

	if closeNow {
		q.Close()
	}
}

// CloseAutomatically closes the queue now if there are no producers, otherwise
// as soon as the last producer is removed
func (q *Queue[E]) CloseAutomatically() {
	q.mu.Lock()
	q.closeAutomatically = true
	closeNow := len(q.producers) == 0
	q.mu.Unlock()

	if closeNow {
		q.Close()
	}
}

// Close closes the queue. Queued items can still be removed.
func (q *Queue[E]) Close() {
	q.once.Do(func() {
		log.Debugf("closing %s", q)
		close(q.done)
	})
}

// IsClosed reports whether the queue is closed
func (q *Queue[E]) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// QueueStats is a snapshot of the queue counters
type QueueStats struct {
	AddSuccess int64
	AddFailure int64
	AddWait    time.Duration
	Removed    int64
	RemoveWait time.Duration
}

// Stats returns the current counters
func (q *Queue[E]) Stats() QueueStats {
	return QueueStats{
		AddSuccess: q.addSuccess.Count(),
		AddFailure: q.addFailure.Count(),
		AddWait:    time.Duration(q.addWait.Sum()),
		Removed:    q.removed.Count(),
		RemoveWait: time.Duration(q.removeWait.Sum()),
	}
}
