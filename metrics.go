package arbor

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key persistence events.
type MetricsProvider interface {
	// OnStateChange is called when the synchronizer transitions between states.
	OnStateChange(from, to State)

	// OnRestore is called when restore settles, whether stored state was
	// applied or the key was empty. Duration covers read, decode, and apply.
	OnRestore(duration time.Duration)

	// OnWriteSuccess is called when a debounced write completes.
	OnWriteSuccess(duration time.Duration)

	// OnWriteFailure is called when a write fails. Duration covers encode
	// and the failed store call.
	OnWriteFailure(duration time.Duration)

	// OnChangeObserved is called when a tree value change reaches the
	// write-back loop, before debouncing.
	OnChangeObserved()
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)         {}
func (NoOpMetricsProvider) OnRestore(_ time.Duration)        {}
func (NoOpMetricsProvider) OnWriteSuccess(_ time.Duration)   {}
func (NoOpMetricsProvider) OnWriteFailure(_ time.Duration)   {}
func (NoOpMetricsProvider) OnChangeObserved()                {}
