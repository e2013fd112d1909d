package xengine

import "time"

// Metrics is the minimal instrumentation surface the engine drives.
// cmd/cacheguardctl wires in an OpenTelemetry-backed implementation; tests
// and library callers that don't care may leave it unset.
type Metrics interface {
	ObserveHit(cache string)
	ObserveMiss(cache string)
	ObserveBlocked(cache string)
	ObservePreRefresh(cache string, mode PreRefreshMode)
	ObserveLoad(cache string, d time.Duration, err error)
	ObserveLockWait(cache string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveHit(string)                           {}
func (noopMetrics) ObserveMiss(string)                           {}
func (noopMetrics) ObserveBlocked(string)                        {}
func (noopMetrics) ObservePreRefresh(string, PreRefreshMode)     {}
func (noopMetrics) ObserveLoad(string, time.Duration, error)     {}
func (noopMetrics) ObserveLockWait(string, time.Duration)        {}
