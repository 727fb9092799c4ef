// Package api exposes a replica over HTTP. NewHandler serves the key-value
// operations of a db.KVDB, the replication sessions and the metrics; Client is
// the matching client used by the kv commands.
package api
