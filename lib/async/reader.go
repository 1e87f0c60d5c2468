package async

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/rcrowley/go-metrics"
)

// Reader produces the records of a query into a queue
type Reader struct {
	database  db.Database
	query     *query.Query
	fetchSize int
	output    *Queue[*state.State]
	produced  metrics.Counter
}

// NewReader creates a reader and registers it as producer of output
func NewReader(database db.Database, q *query.Query, fetchSize int, output *Queue[*state.State]) *Reader {
	r := &Reader{
		database:  database,
		query:     q,
		fetchSize: fetchSize,
		output:    output,
		produced:  metrics.NewCounter(),
	}
	output.AddProducer(r)
	return r
}

func (r *Reader) String() string {
	return "reader[" + r.query.String() + "]"
}

// Run adds every record of the query to the queue. The reader unregisters as
// producer when it returns, which closes a queue that closes automatically.
func (r *Reader) Run(ctx context.Context) error {
	defer r.output.RemoveProducer(r)

	for s, err := range r.database.ReadIterable(ctx, r.query, r.fetchSize) {
		if err != nil {
			return err
		}
		if r.output.IsClosed() {
			return nil
		}
		if err := r.output.Add(ctx, s); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		r.produced.Inc(1)
	}
	return nil
}

// Produced returns the number of records added to the queue
func (r *Reader) Produced() int64 {
	return r.produced.Count()
}
