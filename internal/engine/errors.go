package engine

import (
	"fmt"

	"github.com/vk/bindgraph/internal/nodeid"
)

// FatalError reports an internal invariant violation: an unbound binding, a
// recipe that returned nothing, a panic inside a computation. Fatal errors
// are never suppressed by transaction tentativeness; they abort the
// enclosing request.
type FatalError struct {
	Key    nodeid.Key
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal evaluation error at %s: %s", e.Key, e.Reason)
}

func fatalf(key nodeid.Key, format string, args ...any) *FatalError {
	return &FatalError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// restartError unwinds the tentative evaluation back to the canonical cycle
// break point. It never escapes the engine.
type restartError struct {
	// target is the arena index of the chosen break node.
	target int
}

func (e *restartError) Error() string {
	return fmt.Sprintf("internal: restart at cycle break node %d", e.target)
}
