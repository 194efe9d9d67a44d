package models

// AgentListEntry is the sidebar-facing projection of a thread's last known
// state. Entries are created lazily on first observation and updated in
// place; they are never deleted while the thread remains in the known set.
type AgentListEntry struct {
	ThreadID string

	Profile Profile
	Metrics Metrics

	// Task fields are populated only when the underlying state carries a
	// task with a non-empty id; a task-less state clears all of them.
	TaskID      string
	TaskState   TaskState
	TaskMessage string

	HaltReason     string
	ExecutionError string

	// Synced is true once at least one poll produced a projected update.
	Synced bool

	// Error holds the last poll error, if any.
	Error string
}
