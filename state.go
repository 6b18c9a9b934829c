package arbor

// State represents the current state of a Persistence synchronizer.
type State int32

const (
	// StateRestoring indicates the synchronizer is applying previously
	// stored state and no write-back has begun.
	StateRestoring State = iota

	// StateStreaming indicates restore settled (or was skipped) and value
	// changes are being written back.
	StateStreaming

	// StateDegraded indicates the last restore or write failed. Watching
	// continues; the next successful write returns to StateStreaming.
	StateDegraded

	// StateStopped indicates the synchronizer was torn down. A pending
	// debounced write at teardown is abandoned, not flushed.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateRestoring:
		return "restoring"
	case StateStreaming:
		return "streaming"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
