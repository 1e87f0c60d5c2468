package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dPersist/lib/db"
	"github.com/ValentinKolb/dPersist/lib/db/caching"
	"github.com/ValentinKolb/dPersist/lib/db/engines/bolt"
	"github.com/ValentinKolb/dPersist/lib/db/engines/memory"
	"github.com/ValentinKolb/dPersist/lib/db/engines/raft"
	"github.com/ValentinKolb/dPersist/lib/db/profiling"
	"github.com/ValentinKolb/dPersist/lib/settings"
	"github.com/ValentinKolb/dPersist/rpc/common"
	"github.com/ValentinKolb/dPersist/rpc/serializer"
	"github.com/ValentinKolb/dPersist/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverDatabase is one database hosted by the RPC server together with the
// adapter that handles requests for it
type serverDatabase struct {
	Database db.Database
	Adapter  IRPCServerAdapter
	backend  *db.EngineDatabase
}

// Option configures an RPCServer
type Option func(s *RPCServer)

// WithSettings sets the tunables used for the hosted databases
func WithSettings(st settings.Settings) Option {
	return func(s *RPCServer) {
		s.settings = st
	}
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	opts ...Option,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		settings:   settings.Default(),
		databases:  xsync.NewMapOf[string, serverDatabase](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RPCServer hosts named databases and serves them through a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	settings   settings.Settings
	databases  *xsync.MapOf[string, serverDatabase]
	nodeHost   *dragonboat.NodeHost
}

// Handle decodes a request, lets the adapter of the addressed database handle
// it and returns the encoded response
func (s *RPCServer) Handle(ctx context.Context, database string, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	// Get appropriate database
	hosted, ok := s.databases.Load(database)

	if !ok {
		respMsg = common.NewErrorResponse(fmt.Sprintf("database %q not found", database))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = hosted.Adapter.Handle(ctx, &msg, hosted.Database)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// Database returns a hosted database by name
func (s *RPCServer) Database(name string) (db.Database, bool) {
	hosted, ok := s.databases.Load(name)
	return hosted.Database, ok
}

// Init creates the hosted databases and registers the transport handler
func (s *RPCServer) Init() error {
	s.settings.Apply()

	// Create the Dragonboat NodeHost
	if s.config.HasRaftDatabase() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nodeHost
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	for _, dc := range s.config.Databases {
		backend, err := s.createBackend(dc, timeout)
		if err != nil {
			_ = s.Close()
			return err
		}

		stages := []db.Stage{}
		if s.config.Cache {
			stages = append(stages, caching.Stage(s.settings.CachingOptions()))
		}
		stages = append(stages, profiling.Stage(profiling.MetricsRecorder{SlowThreshold: s.config.SlowThreshold}))

		s.databases.Store(dc.Name, serverDatabase{
			Database: db.Chain(backend, stages...),
			Adapter:  NewDatabaseServerAdapter(),
			backend:  backend,
		})
		Logger.Infof("created %s database %q", dc.Type, dc.Name)
	}

	Logger.Infof("dPersist setup completed (%d databases, serializer %s)", len(s.config.Databases), s.serializer.Name())

	s.transport.RegisterHandler(s.Handle)
	return nil
}

// createBackend creates the engine database of one hosted database
func (s *RPCServer) createBackend(dc common.DatabaseConfig, timeout time.Duration) (*db.EngineDatabase, error) {
	var dbOpts []db.Option
	if s.config.Funnel {
		dbOpts = append(dbOpts, db.WithFunnelCache(s.settings.FunnelOptions()))
	}

	switch dc.Type {
	case common.DatabaseTypeMemory:
		return memory.NewDatabase(memory.Options{Name: dc.Name}, dbOpts...), nil
	case common.DatabaseTypeBolt:
		d, err := bolt.NewDatabase(bolt.Options{Name: dc.Name, Path: dc.Path}, dbOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt database %q: %w", dc.Name, err)
		}
		return d, nil
	case common.DatabaseTypeRaft:
		if s.nodeHost == nil {
			return nil, fmt.Errorf("node host is nil, cannot create raft database %q", dc.Name)
		}
		err := s.nodeHost.StartConcurrentReplica(
			s.config.ClusterMembers, false,
			raft.CreateStateMachineFactory(),
			s.config.ToDragonboatConfig(dc.ShardID),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to start shard %d: %w", dc.ShardID, err)
		}
		return raft.NewDatabase(s.nodeHost, dc.ShardID, raft.Options{Name: dc.Name, Timeout: timeout}, dbOpts...), nil
	default:
		return nil, fmt.Errorf("invalid database type: %s", dc.Type)
	}
}

// Serve starts the RPC server
// This function will also initialize the server plus the databases and start the transport layer.
// It returns after the transport was shut down by SIGINT or SIGTERM.
func (s *RPCServer) Serve() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	Logger.Infof("created RPC server%s", s.config.String())

	if err := s.Init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		Logger.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.transport.Shutdown(shutdownCtx); err != nil {
			Logger.Warningf("failed to shut down transport: %v", err)
		}
	}()

	err := s.transport.Listen(s.config)
	return errors.Join(err, s.Close())
}

// Close closes all hosted databases and the node host
func (s *RPCServer) Close() error {
	var errs []error
	s.databases.Range(func(name string, hosted serverDatabase) bool {
		if err := hosted.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
		s.databases.Delete(name)
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}
