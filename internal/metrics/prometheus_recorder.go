package metrics

import (
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "storebuilder"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	jobDuration   prom.Histogram
	jobOutcomes   *prom.CounterVec
	jobsRunning   prom.Gauge
	jobsQueued    prom.Gauge
	cacheResults  *prom.CounterVec
	assetResults  *prom.CounterVec
	breakerState  *prom.GaugeVec
	deployResults *prom.CounterVec
	httpDuration  *prom.HistogramVec
}

// NewPrometheusRecorder constructs and registers the pipeline metrics.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual generation stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		jobDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Total generation job duration",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		jobOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Generation jobs by terminal status",
		}, []string{"status"}),
		jobsRunning: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Jobs currently executing",
		}),
		jobsQueued: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_queued",
			Help:      "Jobs waiting for a worker",
		}),
		cacheResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cache_results_total",
			Help:      "Cache lookups by tier and result",
		}, []string{"tier", "result"}),
		assetResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "asset_results_total",
			Help:      "Asset optimizations by result",
		}, []string{"result"}),
		breakerState: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		}, []string{"dependency"}),
		deployResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_results_total",
			Help:      "Deployment outcomes per target",
		}, []string{"target", "result"}),
		httpDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prom.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.jobDuration, pr.jobOutcomes,
		pr.jobsRunning, pr.jobsQueued, pr.cacheResults, pr.assetResults, pr.breakerState,
		pr.deployResults, pr.httpDuration)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(outcome string) {
	p.jobOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetJobsRunning(n int) { p.jobsRunning.Set(float64(n)) }

func (p *PrometheusRecorder) SetJobsQueued(n int) { p.jobsQueued.Set(float64(n)) }

func (p *PrometheusRecorder) IncCacheResult(tier, result string) {
	p.cacheResults.WithLabelValues(tier, result).Inc()
}

func (p *PrometheusRecorder) IncAssetResult(result string) {
	p.assetResults.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) SetBreakerState(dependency string, state int) {
	p.breakerState.WithLabelValues(dependency).Set(float64(state))
}

func (p *PrometheusRecorder) IncDeployResult(target, result string) {
	p.deployResults.WithLabelValues(target, result).Inc()
}

func (p *PrometheusRecorder) ObserveHTTPRequest(route, method string, status int, d time.Duration) {
	p.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}
