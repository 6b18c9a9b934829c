package arbor

import "github.com/zoobzio/capitan"

// Persistence lifecycle signals.
var (
	// PersistStarted is emitted when a Persistence begins its restore.
	PersistStarted = capitan.NewSignal(
		"arbor.persist.started",
		"Persistence synchronization started",
	)

	// PersistStopped is emitted when a Persistence stops watching.
	PersistStopped = capitan.NewSignal(
		"arbor.persist.stopped",
		"Persistence synchronization stopped",
	)

	// PersistStateChanged is emitted when a Persistence transitions between states.
	PersistStateChanged = capitan.NewSignal(
		"arbor.persist.state.changed",
		"Persistence state transition",
	)
)

// Restore signals.
var (
	// PersistRestoreCompleted is emitted when stored state was applied to the tree.
	PersistRestoreCompleted = capitan.NewSignal(
		"arbor.persist.restore.completed",
		"Stored value applied to control tree",
	)

	// PersistRestoreSkipped is emitted when the store held nothing for the key.
	PersistRestoreSkipped = capitan.NewSignal(
		"arbor.persist.restore.skipped",
		"No stored value for key",
	)

	// PersistRestoreFailed is emitted when the restore read or apply failed.
	PersistRestoreFailed = capitan.NewSignal(
		"arbor.persist.restore.failed",
		"Restore failed",
	)

	// PersistArrayResized is emitted when restore resizes an array node to
	// match the restored item count.
	PersistArrayResized = capitan.NewSignal(
		"arbor.persist.restore.array.resized",
		"Array resized to restored item count",
	)
)

// Write-back signals.
var (
	// PersistChangeObserved is emitted when a tree value change reaches the
	// write-back loop.
	PersistChangeObserved = capitan.NewSignal(
		"arbor.persist.change.observed",
		"Tree value change observed",
	)

	// PersistWriteSucceeded is emitted when a debounced write completed.
	PersistWriteSucceeded = capitan.NewSignal(
		"arbor.persist.write.succeeded",
		"Tree value written to store",
	)

	// PersistWriteFailed is emitted when the store rejected a write.
	PersistWriteFailed = capitan.NewSignal(
		"arbor.persist.write.failed",
		"Store write failed",
	)
)
