// Package cache stores preview records in an external key-value store under
// a sliding TTL. Manager owns serialization and the connection lifecycle;
// Store implementations (redis, memory) own the wire.
package cache
