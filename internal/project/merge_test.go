package project

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvisle/vaultpilot/internal/models"
)

func TestMergeSnapshotFromScratch(t *testing.T) {
	payload := json.RawMessage(`{
		"threadId": "thread-1",
		"lifecycle": "active",
		"profile": {"name": "Yield Scout", "strategy": "stable-lp", "wallet": "0xabc", "risk": "low"},
		"metrics": {"totalValueUsd": 12500.5, "netApy": 4.2, "cycles": 7},
		"tokens": ["WETH", "USDC"]
	}`)

	state := MergeSnapshot(nil, payload)
	require.NotNil(t, state)
	require.Equal(t, "thread-1", state.ThreadID)
	require.Equal(t, models.LifecycleActive, state.Lifecycle)
	require.Equal(t, "Yield Scout", state.Profile.Name)
	require.Equal(t, 7, state.Metrics.Cycles)
	require.Equal(t, []string{"WETH", "USDC"}, state.Tokens)

	// Collections the payload never mentioned are present and empty.
	require.NotNil(t, state.Chains)
	require.Empty(t, state.Chains)
	require.NotNil(t, state.TransactionHistory)
}

func TestMergeSnapshotRetainsOmittedArrays(t *testing.T) {
	prev := &models.ThreadState{
		ThreadID: "thread-1",
		Tokens:   []string{"WETH"},
		Chains:   []string{"arbitrum"},
	}
	payload := json.RawMessage(`{"lifecycle": "active", "chains": ["base"]}`)

	state := MergeSnapshot(prev, payload)
	require.NotNil(t, state)
	require.Equal(t, []string{"WETH"}, state.Tokens, "omitted array must survive")
	require.Equal(t, []string{"base"}, state.Chains, "present array replaces")
}

func TestMergeSnapshotGuardsNonArrayValues(t *testing.T) {
	prev := &models.ThreadState{Tokens: []string{"WETH"}}

	for name, payload := range map[string]string{
		"null":   `{"tokens": null}`,
		"string": `{"tokens": "WETH"}`,
		"object": `{"tokens": {"0": "WETH"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			state := MergeSnapshot(prev, json.RawMessage(payload))
			require.NotNil(t, state)
			require.Equal(t, []string{"WETH"}, state.Tokens)
		})
	}
}

func TestMergeSnapshotRejectsDegeneratePayloads(t *testing.T) {
	prev := &models.ThreadState{ThreadID: "thread-1"}

	for name, payload := range map[string]string{
		"empty object": `{}`,
		"array":        `["not", "an", "object"]`,
		"scalar":       `42`,
		"garbage":      `{"lifecycle": `,
	} {
		t.Run(name, func(t *testing.T) {
			require.Nil(t, MergeSnapshot(prev, json.RawMessage(payload)))
		})
	}
}

func TestMergeSnapshotDoesNotMutatePrevious(t *testing.T) {
	prev := &models.ThreadState{
		ThreadID:  "thread-1",
		Lifecycle: models.LifecycleOnboarding,
		Tokens:    []string{"WETH"},
	}
	payload := json.RawMessage(`{"lifecycle": "active", "tokens": ["USDC"]}`)

	state := MergeSnapshot(prev, payload)
	require.NotNil(t, state)
	require.Equal(t, models.LifecycleActive, state.Lifecycle)

	require.Equal(t, models.LifecycleOnboarding, prev.Lifecycle)
	require.Equal(t, []string{"WETH"}, prev.Tokens)
}

func TestMergeSnapshotReplacesTask(t *testing.T) {
	prev := &models.ThreadState{
		ThreadID: "thread-1",
		Task:     models.Task{ID: "task-1", State: models.TaskStateWorking},
	}

	state := MergeSnapshot(prev, json.RawMessage(`{"task": {"id": "task-2", "state": "completed"}}`))
	require.NotNil(t, state)
	require.Equal(t, "task-2", state.Task.ID)
	require.Equal(t, models.TaskStateCompleted, state.Task.State)
	require.Equal(t, "task-1", prev.Task.ID)
}
