// Package queue implements in-process replication streams backed by Go
// channels. Two stores in the same process can be replicated without sockets,
// which is what the replication tests use to pin down ordering and conflict
// behavior without network timing.
package queue
