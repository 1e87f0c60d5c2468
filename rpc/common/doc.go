// Package common holds the types shared by the rpc client and server.
//
// Key Components:
//
//   - Message: the single structure used for all requests and responses. The
//     fields in use depend on the MessageType. Database errors travel with
//     their RetCode, failed atomic replacements with their details.
//
//   - ServerConfig: the hosted databases, the stages wrapped around them and
//     the raft parameters. Provides the conversion to the Dragonboat configs.
//
//   - ClientConfig: endpoints, timeouts and retries of a client.
//
//   - Logger: a zap backed implementation of the Dragonboat logger interface,
//     installed for all loggers of the module by InitLoggers.
package common
