// Package durable implements addressable, single-threaded stateful objects
// with persistent key/value storage.
//
// A Namespace maps a stable string identifier to at most one live object
// instance. Instances are created lazily on first reference and all calls
// addressed to one identifier execute strictly serially; two identifiers
// never contend. Each instance owns a storage scope offering get/put/delete
// plus transactional grouping so that partial writes are never observed by a
// subsequent read.
//
// Idle instances can be evicted to reclaim memory; their state remains
// recoverable from storage on the next reference. Deleting an object removes
// both the live instance and its stored state.
package durable
