package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCommandShape(t *testing.T) {
	msg, err := EncodeCommand(CommandSync, "user", map[string]any{"cursor": "abc"})
	require.NoError(t, err)
	require.Equal(t, "user", msg.Role)
	require.NotEmpty(t, msg.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &payload))
	require.Equal(t, "sync", payload["command"])
	require.Equal(t, "user", payload["source"])
	require.Equal(t, "abc", payload["cursor"])
	// The message id doubles as the idempotency key on the wire.
	require.Equal(t, msg.ID, payload["clientMutationId"])
}

func TestEncodeCommandOmitsEmptySource(t *testing.T) {
	msg, err := EncodeCommand(CommandFire, "", nil)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &payload))
	require.Equal(t, "fire", payload["command"])
	_, hasSource := payload["source"]
	require.False(t, hasSource)
}

func TestEncodeCommandMintsFreshMutationIDs(t *testing.T) {
	a, err := EncodeCommand(CommandCycle, "user", nil)
	require.NoError(t, err)
	b, err := EncodeCommand(CommandCycle, "user", nil)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestEncodeCommandExtraCannotShadowCommand(t *testing.T) {
	msg, err := EncodeCommand(CommandHire, "user", map[string]any{"command": "fire"})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &payload))
	require.Equal(t, "hire", payload["command"])
}
