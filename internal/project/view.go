package project

import "github.com/kvisle/vaultpilot/internal/models"

// ListEntry derives the sidebar projection from a thread state. Task-derived
// fields surface only when the state carries a task with a non-empty id; a
// task-less state clears them rather than stringifying absence.
func ListEntry(state *models.ThreadState) models.AgentListEntry {
	entry := models.AgentListEntry{
		ThreadID: state.ThreadID,
		Profile:  state.Profile,
		Metrics:  state.Metrics,
	}
	if state.HasTask() {
		entry.TaskID = state.Task.ID
		entry.TaskState = state.Task.State
		entry.TaskMessage = state.Task.Message
		entry.HaltReason = state.HaltReason
		entry.ExecutionError = state.ExecutionError
	}
	return entry
}

// ViewModel derives the UI-facing snapshot from a thread state plus the
// ambient runtime flags. The derivation is pure and the result's collections
// are defensive copies, so mutating them never affects the source state.
func ViewModel(state *models.ThreadState, flags models.RuntimeFlags) *models.ViewModel {
	if state == nil {
		return nil
	}
	clone := state.Clone()

	vm := &models.ViewModel{
		ThreadID:           clone.ThreadID,
		Lifecycle:          clone.Lifecycle,
		Profile:            clone.Profile,
		Metrics:            clone.Metrics,
		Task:               clone.Task,
		HaltReason:         clone.HaltReason,
		ExecutionError:     clone.ExecutionError,
		Chains:             clone.Chains,
		Protocols:          clone.Protocols,
		Tokens:             clone.Tokens,
		Pools:              clone.Pools,
		AllowedPools:       clone.AllowedPools,
		Telemetry:          clone.Telemetry,
		Events:             clone.Events,
		TransactionHistory: clone.TransactionHistory,
		IsConnected:        flags.Connected,
		CommandInFlight:    flags.CommandInFlight,
		SyncPending:        flags.SyncPending,
	}

	vm.EffectiveTaskState = effectiveTaskState(clone)
	vm.IsHired = isHired(clone.Lifecycle)
	vm.IsActive = isTaskActive(vm.EffectiveTaskState) || flags.CommandInFlight || flags.SyncPending
	vm.IsOnboardingActive = clone.Lifecycle == models.LifecycleOnboarding && vm.IsActive
	return vm
}

// effectiveTaskState reconciles the raw task state with the lifecycle phase.
// Interrupt-shaped failures observed during teardown are normal: the run was
// cancelled out from under the task, so they report as completed.
func effectiveTaskState(state *models.ThreadState) models.TaskState {
	if !state.HasTask() {
		return ""
	}
	ts := state.Task.State
	if state.Lifecycle == models.LifecycleFiring &&
		(ts == models.TaskStateFailed || ts == models.TaskStateCanceled) {
		return models.TaskStateCompleted
	}
	return ts
}

func isHired(phase models.LifecyclePhase) bool {
	switch phase {
	case models.LifecycleOnboarding, models.LifecycleActive, models.LifecycleFiring:
		return true
	}
	return false
}

func isTaskActive(ts models.TaskState) bool {
	switch ts {
	case models.TaskStateSubmitted, models.TaskStateWorking, models.TaskStateInputRequired:
		return true
	}
	return false
}
