package pipeline

import "fmt"

// State is a coordinator lifecycle phase. A run moves strictly forward:
// Init → Connecting → SchemaReady → Enqueuing → Draining → Shutdown.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateSchemaReady
	StateEnqueuing
	StateDraining
	StateShutdown
)

var stateNames = [...]string{
	StateInit:        "init",
	StateConnecting:  "connecting",
	StateSchemaReady: "schema_ready",
	StateEnqueuing:   "enqueuing",
	StateDraining:    "draining",
	StateShutdown:    "shutdown",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
