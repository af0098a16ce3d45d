package scheduler

import (
	"fmt"
	"time"

	"nobiflow/config"
	"nobiflow/internal/model"
)

// Job is one unit of scheduled work: a resource, optionally bound to a
// symbol, and for candle history a resolution. Jobs are built once at
// startup; the set never changes while the scheduler runs.
type Job struct {
	ID         string
	Resource   model.Resource
	Symbol     string
	Resolution string
	Lookback   time.Duration
	Interval   time.Duration
}

// BuildJobs expands the configuration into the static job set: one job
// per enabled symbol resource per symbol (candle history additionally
// per resolution), and one job per enabled global resource.
func BuildJobs(cfg *config.Config) []Job {
	var jobs []Job

	for _, res := range model.SymbolResources {
		rc, ok := cfg.Scheduler.Resources[res.String()]
		if !ok || !rc.IsEnabled() {
			continue
		}
		for _, symbol := range cfg.Symbols {
			if res == model.ResourceOHLCHistory {
				for _, resolution := range rc.Resolutions {
					jobs = append(jobs, Job{
						ID:         fmt.Sprintf("%s/%s/%s", res, symbol, resolution),
						Resource:   res,
						Symbol:     symbol,
						Resolution: resolution,
						Lookback:   rc.Lookback,
						Interval:   rc.Interval,
					})
				}
				continue
			}
			jobs = append(jobs, Job{
				ID:       fmt.Sprintf("%s/%s", res, symbol),
				Resource: res,
				Symbol:   symbol,
				Interval: rc.Interval,
			})
		}
	}

	for _, res := range model.GlobalResources {
		rc, ok := cfg.Scheduler.Resources[res.String()]
		if !ok || !rc.IsEnabled() {
			continue
		}
		jobs = append(jobs, Job{
			ID:       res.String(),
			Resource: res,
			Interval: rc.Interval,
		})
	}

	return jobs
}
