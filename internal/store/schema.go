// Package store persists task records.
package store

// CreateTasksTableSQL creates the task table. errors holds the JSON encoded
// field error map; timestamps are unix nanoseconds.
const CreateTasksTableSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    input_file_path TEXT,
    output_file_path TEXT,
    result_object TEXT,
    errors TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateTasksIndexesSQL creates indexes for status scans.
var CreateTasksIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at)`,
}

// AllSchemaSQL returns every schema statement in execution order.
func AllSchemaSQL() []string {
	stmts := []string{CreateTasksTableSQL}
	return append(stmts, CreateTasksIndexesSQL...)
}
