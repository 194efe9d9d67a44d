// Package project folds partial runtime payloads into complete thread states
// and derives the list and view projections consumed by the UI.
package project

import (
	"bytes"
	"encoding/json"

	"github.com/kvisle/vaultpilot/internal/models"
)

// emptyState is the canonical base every merge starts from: all collections
// present but empty, never nil.
func emptyState() *models.ThreadState {
	return &models.ThreadState{
		Lifecycle:          models.LifecycleUnhired,
		Chains:             []string{},
		Protocols:          []string{},
		Tokens:             []string{},
		Pools:              []string{},
		AllowedPools:       []string{},
		Telemetry:          []models.TelemetryPoint{},
		Events:             []models.ThreadEvent{},
		TransactionHistory: []models.Transaction{},
	}
}

// MergeSnapshot folds a partial payload onto a previously known state and
// returns the fully-populated result. Non-object payloads and payloads with
// zero keys yield nil rather than a degenerate state. Array-typed fields are
// replaced only when the incoming value actually is an array, so a payload
// omitting a field can never silently wipe it. The previous state is never
// mutated.
func MergeSnapshot(prev *models.ThreadState, payload json.RawMessage) *models.ThreadState {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	if len(fields) == 0 {
		return nil
	}

	state := emptyState()
	if prev != nil {
		state = prev.Clone()
		ensureCollections(state)
	}

	mergeScalar(fields, "threadId", &state.ThreadID)
	mergeScalar(fields, "lifecycle", &state.Lifecycle)
	mergeScalar(fields, "profile", &state.Profile)
	mergeScalar(fields, "metrics", &state.Metrics)
	mergeScalar(fields, "task", &state.Task)
	mergeScalar(fields, "haltReason", &state.HaltReason)
	mergeScalar(fields, "executionError", &state.ExecutionError)

	mergeArray(fields, "chains", &state.Chains)
	mergeArray(fields, "protocols", &state.Protocols)
	mergeArray(fields, "tokens", &state.Tokens)
	mergeArray(fields, "pools", &state.Pools)
	mergeArray(fields, "allowedPools", &state.AllowedPools)
	mergeArray(fields, "telemetry", &state.Telemetry)
	mergeArray(fields, "events", &state.Events)
	mergeArray(fields, "transactionHistory", &state.TransactionHistory)

	return state
}

// mergeScalar replaces the target when the field is present and decodable.
func mergeScalar[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	*dst = v
}

// mergeArray replaces the target only when the incoming value is actually a
// JSON array. Null, omitted, and mistyped values retain the previous value.
func mergeArray[T any](fields map[string]json.RawMessage, key string, dst *[]T) {
	raw, ok := fields[key]
	if !ok || !isJSONArray(raw) {
		return
	}
	var v []T
	if err := json.Unmarshal(raw, &v); err != nil {
		return
	}
	if v == nil {
		v = []T{}
	}
	*dst = v
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ensureCollections backfills nil collections so merged states always carry
// every array.
func ensureCollections(s *models.ThreadState) {
	if s.Chains == nil {
		s.Chains = []string{}
	}
	if s.Protocols == nil {
		s.Protocols = []string{}
	}
	if s.Tokens == nil {
		s.Tokens = []string{}
	}
	if s.Pools == nil {
		s.Pools = []string{}
	}
	if s.AllowedPools == nil {
		s.AllowedPools = []string{}
	}
	if s.Telemetry == nil {
		s.Telemetry = []models.TelemetryPoint{}
	}
	if s.Events == nil {
		s.Events = []models.ThreadEvent{}
	}
	if s.TransactionHistory == nil {
		s.TransactionHistory = []models.Transaction{}
	}
}
