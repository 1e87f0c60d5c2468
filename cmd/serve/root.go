package serve

import (
	"fmt"
	"strings"

	cmdUtil "github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/server"
	"github.com/ValentinKolb/dPersist/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the dPersist server",
		Long: `Start the dPersist server with the specified configuration. The configuration can be set via command line flags or environment variables.
The format of the environment variables is DPERSIST_<flag> (e.g. DPERSIST_TIMEOUT=15, DPERSIST_LOCK_TIMEOUT=30s)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "databases"
	ServeCmd.PersistentFlags().String(key, "main=memory", cmdUtil.WrapString("Comma-separated list of databases to serve. Format: NAME=TYPE where TYPE is one of: memory, bolt:<path>, raft:<shard-id>"))

	key = "cache"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Wrap every database in a caching stage"))

	key = "funnel"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Serve typed reads through the funnel cache, concurrent identical reads share one load"))

	key = "slow-threshold"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Log database calls that take longer than this (0 disables logging)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft) CompactionOverhead defines the number of snapshots that should be retained in the system. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raft) DataDir is the directory used for storing the raft log and the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("(raft) Timeout of a proposal or read in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupSettingsFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	return readConfig(serveCmdConfig)
}

// readConfig fills config from viper
func readConfig(config *common.ServerConfig) error {
	databases, err := common.ParseDatabases(viper.GetString(cmdUtil.Key("databases")))
	if err != nil {
		return err
	}
	config.Databases = databases

	// read the configuration from the command line flags and environment variables
	config.Cache = viper.GetBool(cmdUtil.Key("cache"))
	config.Funnel = viper.GetBool(cmdUtil.Key("funnel"))
	config.SlowThreshold = viper.GetDuration(cmdUtil.Key("slow-threshold"))
	config.RTTMillisecond = viper.GetUint64(cmdUtil.Key("rtt-millisecond"))
	config.SnapshotEntries = viper.GetUint64(cmdUtil.Key("snapshot-entries"))
	config.CompactionOverhead = viper.GetUint64(cmdUtil.Key("compaction-overhead"))
	config.DataDir = viper.GetString(cmdUtil.Key("data-dir"))
	config.TimeoutSecond = viper.GetInt64(cmdUtil.Key("timeout"))
	config.Endpoint = viper.GetString(cmdUtil.Key("endpoint"))
	config.LogLevel = viper.GetString(cmdUtil.Key("log-level"))

	if !config.HasRaftDatabase() {
		return nil
	}

	// parse replica id
	id := viper.GetString(cmdUtil.Key("replica-id"))
	if id == "" {
		return fmt.Errorf("replica-id is required for raft databases")
	}
	config.ReplicaID = uint64(util.HashString(id, 0))

	// parse cluster members
	clusterMembers := viper.GetString(cmdUtil.Key("cluster-members"))
	if clusterMembers == "" {
		return fmt.Errorf("cluster-members is required for raft databases")
	}
	config.ClusterMembers = make(map[uint64]string)
	for _, member := range strings.Split(clusterMembers, ",") {
		name, address, ok := strings.Cut(strings.TrimSpace(member), "=")
		if !ok || name == "" || address == "" {
			return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		config.ClusterMembers[uint64(util.HashString(name, 0))] = address
	}

	// test if the replica id is in the cluster members
	if _, ok := config.ClusterMembers[config.ReplicaID]; !ok {
		return fmt.Errorf("no address found for replica ID %s in cluster members", id)
	}
	return nil
}

// run starts the dPersist server
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	st, err := cmdUtil.GetSettings()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
		server.WithSettings(st),
	)

	return serv.Serve()
}
