// Package stores provides the persistence layer for Pilot.
// It includes a SQLite-based store with WAL mode, embedded migrations,
// and operations for projects, branches, plan steps, checkpoints, runs,
// and the lifecycle event log.
package stores
