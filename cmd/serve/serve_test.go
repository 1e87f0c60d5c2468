package serve

import (
	"testing"
	"time"

	cmdUtil "github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func set(t *testing.T, values map[string]any) {
	t.Cleanup(viper.Reset)
	for k, v := range values {
		viper.Set(cmdUtil.Key(k), v)
	}
}

func TestReadConfig(t *testing.T) {
	set(t, map[string]any{
		"databases":      "main=memory,archive=bolt:data/archive.db",
		"cache":          true,
		"slow-threshold": "250ms",
		"endpoint":       ":9090",
		"log-level":      "debug",
	})

	var config common.ServerConfig
	require.NoError(t, readConfig(&config))
	assert.Len(t, config.Databases, 2)
	assert.True(t, config.Cache)
	assert.False(t, config.Funnel)
	assert.Equal(t, 250*time.Millisecond, config.SlowThreshold)
	assert.Equal(t, ":9090", config.Endpoint)
	assert.Nil(t, config.ClusterMembers)
}

func TestReadConfigRaft(t *testing.T) {
	set(t, map[string]any{
		"databases":       "shared=raft:100",
		"replica-id":      "node-2",
		"cluster-members": "node-1=localhost:63001, node-2=localhost:63002",
	})

	var config common.ServerConfig
	require.NoError(t, readConfig(&config))
	assert.Equal(t, uint64(util.HashString("node-2", 0)), config.ReplicaID)
	assert.Equal(t, "localhost:63002", config.ClusterMembers[config.ReplicaID])
	assert.Len(t, config.ClusterMembers, 2)
}

func TestReadConfigRaftErrors(t *testing.T) {
	tests := map[string]map[string]any{
		"missing replica": {"databases": "shared=raft:100", "cluster-members": "node-1=localhost:63001"},
		"missing members": {"databases": "shared=raft:100", "replica-id": "node-1"},
		"unknown replica": {"databases": "shared=raft:100", "replica-id": "node-3", "cluster-members": "node-1=localhost:63001"},
		"bad member":      {"databases": "shared=raft:100", "replica-id": "node-1", "cluster-members": "node-1"},
		"bad database":    {"databases": "shared=mysql"},
	}
	for name, values := range tests {
		t.Run(name, func(t *testing.T) {
			set(t, values)
			var config common.ServerConfig
			assert.Error(t, readConfig(&config))
		})
	}
}
