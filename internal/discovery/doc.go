// Package discovery keeps a per-service cache of instance lists fed by a
// pluggable discovery backend.
//
// The first lookup of a service fetches the full list from the backend and
// subscribes to its watch. Each watch callback replaces the cached snapshot
// and is diffed against the previous one; listeners receive one ChangeEvent
// per non-empty change set (added, removed, health changed).
//
// Backends live in sub-packages: consul for a HashiCorp Consul catalog and
// static for an in-memory, config-seeded list.
package discovery
