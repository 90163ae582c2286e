package taskboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Mesh instances to safely coexist on a single Redis server.
//
// Key pattern: mesh:{instance_name}:{entity}:{id}
// Channel pattern: mesh:{instance_name}:{event_type}_events

// WorkerKey returns the Redis key for a worker heartbeat hash.
// Pattern: mesh:{instance_name}:worker:{worker_id}
func WorkerKey(instanceName, workerID string) string {
	return fmt.Sprintf("mesh:%s:worker:%s", instanceName, workerID)
}

// WorkerIndexKey returns the Redis key for the set of known worker IDs.
// Members whose heartbeat hash has expired are pruned on read.
// Pattern: mesh:{instance_name}:workers
func WorkerIndexKey(instanceName string) string {
	return fmt.Sprintf("mesh:%s:workers", instanceName)
}

// TaskEventsChannel returns the Pub/Sub channel name for task lifecycle
// events (claimed, completed, reaped, deny, ...).
// Pattern: mesh:{instance_name}:task_events
func TaskEventsChannel(instanceName string) string {
	return fmt.Sprintf("mesh:%s:task_events", instanceName)
}

// SQLite schema for the durable side of the taskboard.
//
// The tasks table is the primary source of truth. worker_id and lease_id are
// empty strings (not NULL) when unowned so that conditional updates can key
// on equality without tri-state comparisons. deps is a JSON array of task
// IDs. The config table is a small KV store for coordination state that must
// survive restarts (for example the lane rotation cursor).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	lane             TEXT NOT NULL,
	type             TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL CHECK (status IN ('pending','in_progress','review','completed','blocked','failed')),
	worker_id        TEXT NOT NULL DEFAULT '',
	lease_id         TEXT NOT NULL DEFAULT '',
	risk             TEXT NOT NULL DEFAULT '',
	entropy_marker   TEXT NOT NULL DEFAULT '',
	source_plan_hash TEXT NOT NULL DEFAULT '',
	output           TEXT NOT NULL DEFAULT '',
	deps             TEXT NOT NULL DEFAULT '[]',
	created_at_ms    INTEGER NOT NULL,
	updated_at_ms    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at_ms);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
