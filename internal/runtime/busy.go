package runtime

import (
	"errors"
	"strings"
)

// StatusError is a runtime rejection carrying an HTTP-like status code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// BusyClassifier decides whether a run rejection means another run was
// already active on the thread. The exact wording of busy rejections is an
// artifact of the remote runtime, so callers inject the classifier rather
// than relying on hard-coded heuristics.
type BusyClassifier func(error) bool

// busyFragments are message-text heuristics for runtimes that do not attach
// status codes to busy rejections.
var busyFragments = []string{
	"already active",
	"thread is busy",
	"currently active",
	"run_started",
}

// DefaultBusyClassifier matches HTTP-like conflict codes when present and
// falls back to message-text heuristics.
func DefaultBusyClassifier(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == 409 || se.Code == 422 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range busyFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
