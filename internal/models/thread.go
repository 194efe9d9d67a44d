// Package models defines the core data structures shared across vaultpilot.
package models

// LifecyclePhase describes where an agent is in its hire/fire lifecycle.
type LifecyclePhase string

const (
	// LifecycleUnhired means no agent has been hired on this thread yet.
	LifecycleUnhired LifecyclePhase = "unhired"

	// LifecycleOnboarding means the agent is being set up (hire accepted,
	// strategy not yet running).
	LifecycleOnboarding LifecyclePhase = "onboarding"

	// LifecycleActive means the agent is hired and operating.
	LifecycleActive LifecyclePhase = "active"

	// LifecycleFiring means teardown is in progress.
	LifecycleFiring LifecyclePhase = "firing"

	// LifecycleRetired means the agent has been fully torn down.
	LifecycleRetired LifecyclePhase = "retired"
)

// TaskState describes the remote task attached to a thread's current run.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Task is the remote runtime's unit of work on a thread.
type Task struct {
	ID      string    `json:"id"`
	State   TaskState `json:"state"`
	Message string    `json:"message"`
}

// Profile holds the agent's strategy configuration as reported by the runtime.
type Profile struct {
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Wallet   string `json:"wallet"`
	Risk     string `json:"risk"`
}

// Metrics holds the agent's reported performance numbers.
type Metrics struct {
	TotalValueUSD float64 `json:"totalValueUsd"`
	NetAPY        float64 `json:"netApy"`
	Cycles        int     `json:"cycles"`
}

// ThreadState is the fully-populated local projection of one thread. All
// collection fields are always non-nil; Merge guarantees this.
type ThreadState struct {
	ThreadID string `json:"threadId"`

	Lifecycle LifecyclePhase `json:"lifecycle"`
	Profile   Profile        `json:"profile"`
	Metrics   Metrics        `json:"metrics"`
	Task      Task           `json:"task"`

	HaltReason     string `json:"haltReason"`
	ExecutionError string `json:"executionError"`

	Chains             []string         `json:"chains"`
	Protocols          []string         `json:"protocols"`
	Tokens             []string         `json:"tokens"`
	Pools              []string         `json:"pools"`
	AllowedPools       []string         `json:"allowedPools"`
	Telemetry          []TelemetryPoint `json:"telemetry"`
	Events             []ThreadEvent    `json:"events"`
	TransactionHistory []Transaction    `json:"transactionHistory"`
}

// TelemetryPoint is one sample in the agent's telemetry series.
type TelemetryPoint struct {
	Timestamp int64   `json:"timestamp"`
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
}

// ThreadEvent is a runtime-reported event attached to a thread's history.
type ThreadEvent struct {
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
}

// Transaction is one on-chain action the agent reported.
type Transaction struct {
	Hash      string  `json:"hash"`
	Chain     string  `json:"chain"`
	Action    string  `json:"action"`
	AmountUSD float64 `json:"amountUsd"`
	Timestamp int64   `json:"timestamp"`
}

// HasTask reports whether the state carries a real task. Task-derived fields
// are meaningless without one.
func (s *ThreadState) HasTask() bool {
	return s != nil && s.Task.ID != ""
}

// Clone returns a deep copy of the state. Collection fields are copied so
// mutating the clone never aliases the source; empty collections stay
// present rather than collapsing to nil.
func (s *ThreadState) Clone() *ThreadState {
	if s == nil {
		return nil
	}
	out := *s
	out.Chains = cloneSlice(s.Chains)
	out.Protocols = cloneSlice(s.Protocols)
	out.Tokens = cloneSlice(s.Tokens)
	out.Pools = cloneSlice(s.Pools)
	out.AllowedPools = cloneSlice(s.AllowedPools)
	out.Telemetry = cloneSlice(s.Telemetry)
	out.Events = cloneSlice(s.Events)
	out.TransactionHistory = cloneSlice(s.TransactionHistory)
	return &out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
