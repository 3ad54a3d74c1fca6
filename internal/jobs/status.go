package jobs

import "git.home.luguber.info/inful/storebuilder/internal/config"

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusFetchingConfig    Status = "fetching_config"
	StatusRendering         Status = "rendering"
	StatusOptimizingAssets  Status = "optimizing_assets"
	StatusApplyingSEO       Status = "applying_seo"
	StatusDeploying         Status = "deploying"
	StatusCompleted         Status = "completed"
	StatusPartiallyDeployed Status = "partially_deployed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// Stages lists the working states in the order a job passes through them.
var Stages = []Status{StatusFetchingConfig, StatusRendering, StatusOptimizingAssets, StatusApplyingSEO, StatusDeploying}

// Terminal reports whether s is final. Terminal jobs never change again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyDeployed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) order() int {
	if s == StatusQueued {
		return 0
	}
	for i, st := range Stages {
		if st == s {
			return i + 1
		}
	}
	return -1
}

// CanTransition reports whether a job may move from one status to another.
// Working stages advance one step at a time. Completed and PartiallyDeployed
// follow Deploying; Failed and Cancelled may follow any non-terminal status.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusFailed, StatusCancelled:
		return true
	case StatusCompleted, StatusPartiallyDeployed:
		return from == StatusDeploying
	}
	f, t := from.order(), to.order()
	return f >= 0 && t > 0 && t == f+1
}

// Weights maps each working stage to its share of overall progress.
type Weights map[Status]float64

// WeightsFromConfig normalises configured stage weights so they sum to one.
func WeightsFromConfig(w config.StageWeights) Weights {
	raw := Weights{
		StatusFetchingConfig:   w.Fetch,
		StatusRendering:        w.Render,
		StatusOptimizingAssets: w.Optimize,
		StatusApplyingSEO:      w.SEO,
		StatusDeploying:        w.Deploy,
	}
	total := w.Total()
	if total <= 0 {
		return DefaultWeights()
	}
	for k, v := range raw {
		raw[k] = v / total
	}
	return raw
}

// DefaultWeights is render 30%, optimize 40%, seo 10%, deploy 20%.
func DefaultWeights() Weights {
	return Weights{
		StatusFetchingConfig:   0,
		StatusRendering:        0.3,
		StatusOptimizingAssets: 0.4,
		StatusApplyingSEO:      0.1,
		StatusDeploying:        0.2,
	}
}
