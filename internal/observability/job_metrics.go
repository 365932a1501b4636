package observability

import "time"

// ObserveJob times one job execution and records its outcome.
// result is one of done|retry|failed.
func (p *Prom) ObserveJob(jobType string, fn func() string) {
	p.JobsInFlight.Inc()
	defer p.JobsInFlight.Dec()

	start := time.Now()
	result := fn()
	secs := time.Since(start).Seconds()

	p.JobDuration.WithLabelValues(jobType, result).Observe(secs)
	p.JobResults.WithLabelValues(jobType, result).Inc()
}
