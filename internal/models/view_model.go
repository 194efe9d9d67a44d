package models

// RuntimeFlags are the ephemeral per-thread flags carried alongside the
// projected state when deriving a ViewModel.
type RuntimeFlags struct {
	Connected       bool
	CommandInFlight bool
	SyncPending     bool
}

// ViewModel is the fully-normalized, defensively-cloned snapshot consumed by
// rendering. Its collections never alias the source ThreadState.
type ViewModel struct {
	ThreadID string

	Lifecycle LifecyclePhase
	Profile   Profile
	Metrics   Metrics
	Task      Task

	HaltReason     string
	ExecutionError string

	Chains             []string
	Protocols          []string
	Tokens             []string
	Pools              []string
	AllowedPools       []string
	Telemetry          []TelemetryPoint
	Events             []ThreadEvent
	TransactionHistory []Transaction

	IsConnected     bool
	CommandInFlight bool
	SyncPending     bool

	// EffectiveTaskState is the task state reconciled with the lifecycle
	// phase. Interrupt-shaped failures observed while firing report as
	// completed rather than failed.
	EffectiveTaskState TaskState

	IsHired            bool
	IsActive           bool
	IsOnboardingActive bool
}
