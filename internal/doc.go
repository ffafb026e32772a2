// Package internal documents the attend server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, problem responses, and routing
// - domain: events, users, analytics, and the registration engine
// - storage: Postgres and in-memory repositories
// - jobs: River workers for promotion, sweeps, reminders, and email
// - auth, audit, config, metrics, telemetry, realtime: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
