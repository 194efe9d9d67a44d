package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultBusyClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"conflict status", &StatusError{Code: 409, Message: "conflict"}, true},
		{"unprocessable status", &StatusError{Code: 422, Message: "rejected"}, true},
		{"server error status", &StatusError{Code: 500, Message: "boom"}, false},
		{"wrapped status", fmt.Errorf("run agent: %w", &StatusError{Code: 409, Message: "conflict"}), true},
		{"already active text", errors.New("a run is Already Active on this thread"), true},
		{"thread is busy text", errors.New("thread is busy"), true},
		{"run_started text", errors.New("rejected: run_started"), true},
		{"unrelated error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DefaultBusyClassifier(tt.err))
		})
	}
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Code: 409, Message: "run already active"}
	require.Equal(t, "run already active", err.Error())
}
