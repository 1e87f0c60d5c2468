package async

import (
	"context"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Handler processes the items of a Consumer
type Handler[E any] interface {
	// BeforeStart is called once before the first item
	BeforeStart(ctx context.Context) error
	// Consume processes one item
	Consume(ctx context.Context, item E) error
	// HandleError is called for every item Consume failed on. Returning an
	// error stops the consumer.
	HandleError(ctx context.Context, item E, err error) error
	// Finished is called once after the last item, also when the consumer stops
	// because of an error
	Finished(ctx context.Context) error
}

// Consumer runs a Handler for every item of a queue
type Consumer[E any] struct {
	input   *Queue[E]
	handler Handler[E]

	consumed metrics.Counter
	errors   metrics.Counter
	duration metrics.Timer
}

// NewConsumer creates a consumer of input
func NewConsumer[E any](input *Queue[E], handler Handler[E]) *Consumer[E] {
	return &Consumer[E]{
		input:    input,
		handler:  handler,
		consumed: metrics.NewCounter(),
		errors:   metrics.NewCounter(),
		duration: metrics.NewTimer(),
	}
}

// Run consumes items until the queue is closed and drained, ctx is done or the
// handler fails fatally
func (c *Consumer[E]) Run(ctx context.Context) (err error) {
	if err := c.handler.BeforeStart(ctx); err != nil {
		return err
	}
	defer func() {
		if finErr := c.handler.Finished(ctx); err == nil {
			err = finErr
		}
	}()

	for {
		item, ok, err := c.input.Remove(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		start := time.Now()
		consumeErr := c.handler.Consume(ctx, item)
		c.duration.UpdateSince(start)

		if consumeErr == nil {
			c.consumed.Inc(1)
			continue
		}
		c.errors.Inc(1)
		if err := c.handler.HandleError(ctx, item, consumeErr); err != nil {
			return err
		}
	}
}

// ConsumerStats is a snapshot of the consumer counters
type ConsumerStats struct {
	Consumed int64
	Errors   int64
	Duration time.Duration
}

// Stats returns the current counters
func (c *Consumer[E]) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed: c.consumed.Count(),
		Errors:   c.errors.Count(),
		Duration: time.Duration(c.duration.Sum()),
	}
}
