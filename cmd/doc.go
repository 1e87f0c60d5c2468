// Package cmd implements the command-line interface of dPersist. It provides
// a hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: starts the server and configures the hosted databases
//   - record: put, get and delete single records
//   - query: count, list and delete records matching conditions
//   - lock: run commands while holding a distributed lock
//   - bulk: apply write operations to many records with concurrent writers
//   - util: shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set as environment variables DPERSIST_<FLAG>, .env and
// .env.local files are loaded on start. See dpersist -help for a list of all commands.
package cmd
