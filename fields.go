package arbor

import "github.com/zoobzio/capitan"

// Field keys for Persistence events.
var (
	// KeyStorageKey is the storage key a Persistence synchronizes against.
	KeyStorageKey = capitan.NewStringKey("storage_key")

	// KeyState is the current state of the Persistence.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDebounce is the configured debounce duration.
	KeyDebounce = capitan.NewDurationKey("debounce")

	// KeyPath is the tree path of an array resized during restore.
	KeyPath = capitan.NewStringKey("path")

	// KeyItems is the number of items a restored array was resized to.
	KeyItems = capitan.NewIntKey("items")
)
