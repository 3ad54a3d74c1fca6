package metrics

import "time"

// ResultLabel enumerates stage result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultWarning  ResultLabel = "warning"
	ResultFatal    ResultLabel = "fatal"
	ResultCanceled ResultLabel = "canceled"
)

// Asset outcomes.
const (
	AssetComputed = "computed"
	AssetCacheHit = "cache_hit"
	AssetFallback = "fallback"
)

// Recorder defines the pipeline's observability hooks. Implementations must
// be safe for concurrent use.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveJobDuration(d time.Duration)
	IncJobOutcome(outcome string) // terminal job status
	SetJobsRunning(n int)
	SetJobsQueued(n int)
	IncCacheResult(tier, result string)
	IncAssetResult(result string)
	SetBreakerState(dependency string, state int)
	IncDeployResult(target, result string)
	ObserveHTTPRequest(route, method string, status int, d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration)            {}
func (NoopRecorder) IncStageResult(string, ResultLabel)                    {}
func (NoopRecorder) ObserveJobDuration(time.Duration)                      {}
func (NoopRecorder) IncJobOutcome(string)                                  {}
func (NoopRecorder) SetJobsRunning(int)                                    {}
func (NoopRecorder) SetJobsQueued(int)                                     {}
func (NoopRecorder) IncCacheResult(string, string)                         {}
func (NoopRecorder) IncAssetResult(string)                                 {}
func (NoopRecorder) SetBreakerState(string, int)                           {}
func (NoopRecorder) IncDeployResult(string, string)                        {}
func (NoopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}
