package bulk

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/dPersist/lib/async"
	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/stretchr/testify/assert"
)

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, db.OpIndex, async.CopyStats{
		Read:    250,
		Queue:   async.QueueStats{Removed: 250},
		Writers: []async.WriterStats{{Commits: 2, Fallbacks: 1}, {Commits: 1, Failures: 1}},
	}, 1500*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "index: read=250, commits=3, fallbacks=1, failures=1, writers=2, took=1.5s")
	assert.Contains(t, out, "queue: removed=250")
}
