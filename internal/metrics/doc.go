// Package metrics provides the observability hooks of the generation
// pipeline.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics never need nil checks:
//
//	type Controller struct {
//	    recorder metrics.Recorder
//	}
//
// When metrics are enabled the CLI swaps in a PrometheusRecorder bound to a
// registry that is also served by HTTPHandler.
package metrics
