package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Well-known command names understood by the remote runtime.
const (
	CommandSync  = "sync"
	CommandHire  = "hire"
	CommandFire  = "fire"
	CommandCycle = "cycle"
)

// EncodeCommand builds the user message carrying a command payload. The wire
// shape is {"command": ..., "source"?: ..., "clientMutationId": ..., ...extra}.
// A fresh clientMutationId is minted per call; the remote side uses it for
// idempotency and the coordinator does not interpret it.
func EncodeCommand(command, source string, extra map[string]any) (Message, error) {
	mutationID := uuid.NewString()

	payload := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		payload[k] = v
	}
	payload["command"] = command
	payload["clientMutationId"] = mutationID
	if source != "" {
		payload["source"] = source
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode command %q: %w", command, err)
	}

	return Message{
		ID:      mutationID,
		Role:    "user",
		Content: string(body),
	}, nil
}
