package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/query"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	transport "github.com/ValentinKolb/dPersist/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, config common.ServerConfig) (*RPCServer, *transport.HttpServerTransport) {
	tr := transport.NewHttpServerTransport()
	s := NewRPCServer(config, tr, serializer.NewJSONSerializer())
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Close() })
	return s, tr
}

func call(t *testing.T, s *RPCServer, database string, req *common.Message) *common.Message {
	ser := serializer.NewJSONSerializer()
	b, err := ser.Serialize(*req)
	require.NoError(t, err)
	var resp common.Message
	require.NoError(t, ser.Deserialize(s.Handle(context.Background(), database, b), &resp))
	return &resp
}

func TestHandle(t *testing.T) {
	s, _ := newServer(t, common.ServerConfig{
		Databases: []common.DatabaseConfig{{Name: "main", Type: common.DatabaseTypeMemory}},
	})

	item := state.New("item")
	item.Put("name", "a")
	item.Put("count", 1)

	resp := call(t, s, "main", common.NewApplyRequest([]db.Write{{Operation: db.OpSave, State: item}}, false))
	require.Empty(t, resp.Err)

	// the response carries the result of the atomic operations
	stale := item.Clone()
	stale.Put("count", 100)
	stale.IncrementAtomically("count", 2)
	resp = call(t, s, "main", common.NewApplyRequest([]db.Write{{Operation: db.OpSave, State: stale}}, false))
	require.Empty(t, resp.Err)
	require.Len(t, resp.States, 1)
	assert.EqualValues(t, 3, resp.States[0].Get("count"))
	assert.False(t, resp.States[0].LastUpdate().IsZero())

	resp = call(t, s, "main", common.NewReadRequest(common.MsgTReadCount, query.From("item"), false))
	require.Empty(t, resp.Err)
	assert.EqualValues(t, 1, resp.Count)

	resp = call(t, s, "main", common.NewReadRequest(common.MsgTReadFirst, query.ByID("item", item.ID()), true))
	require.Len(t, resp.States, 1)
	assert.Equal(t, "a", resp.States[0].Get("name"))

	resp = call(t, s, "main", common.NewReadPartialRequest(query.From("item"), false, 0, 10))
	assert.EqualValues(t, 1, resp.Count)
	assert.Len(t, resp.States, 1)

	resp = call(t, s, "main", common.NewReadGroupedRequest(query.From("item"), false, []string{"name"}))
	require.Len(t, resp.Groups, 1)
	assert.EqualValues(t, 1, resp.Groups[0].Count)

	resp = call(t, s, "main", common.NewDeleteByQueryRequest(query.From("item")))
	require.Empty(t, resp.Err)
	resp = call(t, s, "main", common.NewReadRequest(common.MsgTReadCount, query.From("item"), false))
	assert.EqualValues(t, 0, resp.Count)

	resp = call(t, s, "main", common.NewNowRequest())
	assert.NotZero(t, resp.Time)
}

func TestHandleErrors(t *testing.T) {
	s, _ := newServer(t, common.ServerConfig{
		Databases: []common.DatabaseConfig{{Name: "main", Type: common.DatabaseTypeMemory}},
	})

	resp := call(t, s, "other", common.NewNowRequest())
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "not found")

	resp = call(t, s, "main", &common.Message{MsgType: common.MsgTSuccess})
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "Unsupported message type")

	var decoded common.Message
	require.NoError(t, serializer.NewJSONSerializer().Deserialize(s.Handle(context.Background(), "main", []byte("{garbage")), &decoded))
	assert.Contains(t, decoded.Err, "failed to deserialize request")

	// a lost replacement travels with its details
	item := state.New("item")
	item.Put("owner", "a")
	call(t, s, "main", common.NewApplyRequest([]db.Write{{Operation: db.OpSave, State: item}}, false))
	stale := item.Clone()
	stale.Put("owner", "b")
	stale.ReplaceAtomically("owner", "c")
	item.Put("owner", "x")
	call(t, s, "main", common.NewApplyRequest([]db.Write{{Operation: db.OpSave, State: item}}, false))

	resp = call(t, s, "main", common.NewApplyRequest([]db.Write{{Operation: db.OpSave, State: stale}}, false))
	assert.Equal(t, db.RetCReplacementFailed, resp.ErrCode)
	require.NotNil(t, resp.Replacement)
	assert.Equal(t, item.ID().String(), resp.Replacement.ID)
	assert.Equal(t, "owner", resp.Replacement.Field)
}

func TestStagesAndBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, _ := newServer(t, common.ServerConfig{
		Databases: []common.DatabaseConfig{
			{Name: "main", Type: common.DatabaseTypeMemory},
			{Name: "archive", Type: common.DatabaseTypeBolt, Path: path},
		},
		Cache:  true,
		Funnel: true,
	})

	archive, ok := s.Database("archive")
	require.True(t, ok)
	assert.Equal(t, "archive", archive.Name())

	ctx := context.Background()
	item := state.New("item")
	require.NoError(t, archive.Save(ctx, item))

	resp := call(t, s, "archive", common.NewReadRequest(common.MsgTReadCount, query.From("item"), true))
	assert.EqualValues(t, 1, resp.Count)

	resp = call(t, s, "main", common.NewReadRequest(common.MsgTReadCount, query.From("item"), true))
	assert.EqualValues(t, 0, resp.Count)
}

func TestInitFailsOnBadDatabase(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{
		Databases: []common.DatabaseConfig{{Name: "broken", Type: common.DatabaseTypeBolt}},
	}, transport.NewHttpServerTransport(), serializer.NewJSONSerializer())
	require.Error(t, s.Init())
}

func TestHTTPHandler(t *testing.T) {
	_, tr := newServer(t, common.ServerConfig{
		Databases: []common.DatabaseConfig{{Name: "main", Type: common.DatabaseTypeMemory}},
	})
	httpServer := httptest.NewServer(tr.Handler())
	defer httpServer.Close()

	b, err := serializer.NewJSONSerializer().Serialize(*common.NewReadRequest(common.MsgTReadAll, query.From("item"), false))
	require.NoError(t, err)
	resp, err := http.Post(httpServer.URL+"/db/main", "application/octet-stream", strings.NewReader(string(b)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpServer.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dpersist_database_duration_seconds")
}
