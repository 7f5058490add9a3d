// Package healthcheck probes backend servers and reports when they cross the
// fall or rise threshold.
package healthcheck

// HealthCheck is general interface of all health-check implementations
type HealthCheck interface {
	// Healthy returns the last settled state.
	Healthy() bool
	// Check delivers state changes. Only the latest undelivered state is kept.
	// It is closed by Close.
	Check() <-chan bool
	Close()
}
