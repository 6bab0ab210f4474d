package checkpoint

import (
	"strings"
)

// Kind distinguishes checkpoint namespaces.
type Kind string

const (
	// KindRun holds executor state for a batch run.
	KindRun Kind = "run"

	// KindCursor holds the last pagination cursor for a source.
	KindCursor Kind = "cursor"
)

// Key identifies one checkpoint.
type Key struct {
	Kind Kind
	ID   string
}

// RunKey returns the key of a batch run.
func RunKey(runID string) Key {
	return Key{Kind: KindRun, ID: runID}
}

// CursorKey returns the key of a paginated source, e.g. "events/0xabc/17".
func CursorKey(source string) Key {
	return Key{Kind: KindCursor, ID: source}
}

// String generates the Redis key.
// Format: contractooor:checkpoint:<kind>:<id>
//
// Example:
//
//	contractooor:checkpoint:run:0x1f2e3d4c5b6a7988
func (k Key) String() string {
	parts := []string{"contractooor", "checkpoint", string(k.Kind)}
	if id := strings.Trim(k.ID, ":"); id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, ":")
}
