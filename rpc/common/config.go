package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// DatabaseType selects the engine of a hosted database
type DatabaseType string

const (
	DatabaseTypeMemory DatabaseType = "memory"
	DatabaseTypeBolt   DatabaseType = "bolt"
	DatabaseTypeRaft   DatabaseType = "raft"
)

// DatabaseConfig describes one database hosted by the server
type DatabaseConfig struct {
	// Name addresses the database in requests
	Name string
	// Type of the engine
	Type DatabaseType
	// Path of the bolt file (bolt only)
	Path string
	// ShardID of the raft shard (raft only)
	ShardID uint64
}

// ParseDatabases parses a comma separated list of databases:
//
//	main=memory,archive=bolt:data/archive.db,shared=raft:100
func ParseDatabases(list string) ([]DatabaseConfig, error) {
	var result []DatabaseConfig
	seen := map[string]bool{}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, def, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid database %q, expected name=type[:arg]", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("database %q defined twice", name)
		}
		seen[name] = true

		typ, arg, _ := strings.Cut(def, ":")
		dc := DatabaseConfig{Name: name, Type: DatabaseType(typ)}
		switch dc.Type {
		case DatabaseTypeMemory:
		case DatabaseTypeBolt:
			if arg == "" {
				return nil, fmt.Errorf("database %q: bolt needs a path", name)
			}
			dc.Path = arg
		case DatabaseTypeRaft:
			id, err := strconv.ParseUint(arg, 10, 64)
			if err != nil || id == 0 {
				return nil, fmt.Errorf("database %q: raft needs a shard id > 0", name)
			}
			dc.ShardID = id
		default:
			return nil, fmt.Errorf("database %q: unknown type %q (expected memory, bolt or raft)", name, typ)
		}
		result = append(result, dc)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no databases configured")
	}
	return result, nil
}

// ServerConfig holds all configuration parameters of the server
type ServerConfig struct {
	// Hosted databases
	Databases []DatabaseConfig

	// Per database stages
	Cache         bool          // Wrap every database in a caching stage
	Funnel        bool          // Serve typed reads through the funnel cache
	SlowThreshold time.Duration // Log database calls that take longer (0 disables)

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// raft database parameters
	TimeoutSecond int64

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasRaftDatabase checks if the configuration contains any raft database
func (c *ServerConfig) HasRaftDatabase() bool {
	for _, d := range c.Databases {
		if d.Type == DatabaseTypeRaft {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Databases
	addSection("Databases")
	for _, d := range c.Databases {
		switch d.Type {
		case DatabaseTypeBolt:
			addField(d.Name, fmt.Sprintf("%s (%s)", d.Type, d.Path))
		case DatabaseTypeRaft:
			addField(d.Name, fmt.Sprintf("%s (shard %d)", d.Type, d.ShardID))
		default:
			addField(d.Name, string(d.Type))
		}
	}
	addField("Cache", fmt.Sprintf("%t", c.Cache))
	addField("Funnel Cache", fmt.Sprintf("%t", c.Funnel))
	addField("Slow Threshold", c.SlowThreshold.String())

	if c.HasRaftDatabase() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
