package serializer

import (
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON": NewJSONSerializer,
	"GOB":  NewGOBSerializer,
}

func roundTrip(t *testing.T, s IRPCSerializer, msg common.Message) common.Message {
	t.Helper()
	data, err := s.Serialize(msg)
	require.NoError(t, err)
	var result common.Message
	require.NoError(t, s.Deserialize(data, &result))
	return result
}

func TestRequests(t *testing.T) {
	q := query.From("article").
		Where(query.Eq("author", "ada")).
		And(query.Gte("rank", 3)).
		SortDescending("rank").
		NoCache()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			result := roundTrip(t, s, *common.NewReadPartialGroupedRequest(q, true, 20, 10, []string{"author"}))
			assert.Equal(t, common.MsgTReadPartialGrouped, result.MsgType)
			require.NotNil(t, result.Query)
			assert.Equal(t, q.Key(), result.Query.Key())
			assert.True(t, result.Query.IsCacheDisabled())
			assert.True(t, result.Primary)
			assert.Equal(t, int64(20), result.Offset)
			assert.Equal(t, 10, result.Limit)
			assert.Equal(t, []string{"author"}, result.Fields)
		})
	}
}

func TestApply(t *testing.T) {
	saved := state.New("article")
	saved.Put("title", "hello")
	saved.IncrementAtomically("views", 1)
	recalculated := state.New("article")

	req := common.NewApplyRequest([]db.Write{
		{Operation: db.OpSave, State: saved},
		{Operation: db.OpIndex, State: recalculated, Fields: []string{"title"}},
	}, true)

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			result := roundTrip(t, factory(), *req)
			assert.True(t, result.Eventually)
			require.Len(t, result.Writes, 2)
			assert.Equal(t, saved.ID(), result.Writes[0].State.ID())
			assert.Equal(t, "hello", result.Writes[0].State.Get("title"))
			assert.Len(t, result.Writes[0].State.AtomicOperations(), 1)
			assert.Equal(t, db.OpIndex, result.Writes[1].Operation)
			assert.Equal(t, []string{"title"}, result.Writes[1].Fields)
		})
	}
}

func TestResponses(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			groups := common.NewResponse(common.MsgTReadAllGrouped, nil)
			groups.Groups = []*db.Grouping{{Keys: []any{"ada", nil}, Count: 3}}
			result := roundTrip(t, s, *groups)
			require.Len(t, result.Groups, 1)
			assert.Equal(t, []any{"ada", nil}, result.Groups[0].Keys)
			assert.Equal(t, int64(3), result.Groups[0].Count)

			failed := common.NewResponse(common.MsgTApply, &state.ReplacementError{Field: "owner", OldValue: "a", NewValue: "b"})
			result = roundTrip(t, s, *failed)
			assert.Equal(t, db.RetCReplacementFailed, result.ErrCode)
			require.NotNil(t, result.Replacement)
			assert.Equal(t, "owner", result.Replacement.Field)
			assert.True(t, db.IsReplacementFailure(result.Error(nil, nil)))

			timeout := common.NewResponse(common.MsgTReadAll, db.NewError(nil, db.RetCReadTimeout, "slow", nil))
			result = roundTrip(t, s, *timeout)
			assert.True(t, db.IsReadTimeout(result.Error(nil, nil)))

			result = roundTrip(t, s, *common.NewResponse(common.MsgTNow, nil))
			assert.NoError(t, result.Error(nil, nil))
		})
	}
}

func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			for msgType := common.MsgTSuccess; msgType <= common.MsgTNow; msgType++ {
				result := roundTrip(t, s, common.Message{MsgType: msgType})
				assert.Equal(t, msgType, result.MsgType, msgType.String())
			}
		})
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{"": "json", "json": "json", "gob": "gob"} {
		s, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}
	_, err := New("binary")
	assert.Error(t, err)
}

func TestDeserializeGarbage(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			var msg common.Message
			assert.Error(t, factory().Deserialize([]byte("\x00not a message"), &msg))
		})
	}
}

func BenchmarkSerialize(b *testing.B) {
	states := make([]*state.State, 100)
	for i := range states {
		states[i] = state.New("article")
		states[i].Put("title", "benchmark")
		states[i].Put("rank", i)
	}
	msg := common.NewResponse(common.MsgTReadAll, nil)
	msg.States = states

	for name, factory := range testSerializers {
		b.Run(name, func(b *testing.B) {
			s := factory()
			for i := 0; i < b.N; i++ {
				data, err := s.Serialize(*msg)
				if err != nil {
					b.Fatal(err)
				}
				var result common.Message
				if err := s.Deserialize(data, &result); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
