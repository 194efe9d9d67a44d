package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneDeepCopiesCollections(t *testing.T) {
	s := &ThreadState{
		ThreadID: "thread-1",
		Tokens:   []string{"WETH"},
		Telemetry: []TelemetryPoint{
			{Timestamp: 1, Label: "tvl", Value: 1000},
		},
	}

	c := s.Clone()
	c.Tokens[0] = "USDC"
	c.Telemetry[0].Value = 0

	require.Equal(t, "WETH", s.Tokens[0])
	require.Equal(t, float64(1000), s.Telemetry[0].Value)
}

func TestClonePreservesEmptyCollections(t *testing.T) {
	s := &ThreadState{
		Chains: []string{},
		Events: []ThreadEvent{},
	}

	c := s.Clone()
	require.NotNil(t, c.Chains)
	require.NotNil(t, c.Events)
	require.Nil(t, c.Tokens, "absent collections stay absent")
}

func TestCloneNil(t *testing.T) {
	var s *ThreadState
	require.Nil(t, s.Clone())
}

func TestHasTask(t *testing.T) {
	var s *ThreadState
	require.False(t, s.HasTask())
	require.False(t, (&ThreadState{}).HasTask())
	require.True(t, (&ThreadState{Task: Task{ID: "task-1"}}).HasTask())
}
