// Package cmd implements the command-line interface of rKV. It provides a
// hierarchical command structure with operations for running a replica and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a replica (store, replication hub and HTTP api)
//   - kv: Commands for key-value operations against a running replica
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set with an environment variable RKV_<FLAG>
// (e.g. RKV_MAX_ENTRIES=20), in a .env file or in the file given with --config.
//
// See rkv -help for a list of all commands.
package cmd
