// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics holds the pipeline's Prometheus instrumentation: job
// transitions, extractor file counts, embedding retries/failures,
// retrieval source degradation, and composer fallbacks.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	once sync.Once

	jobsClaimed   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsRequeued  prometheus.Counter
	jobsFailed    prometheus.Counter

	extractorFilesProcessed prometheus.Counter
	extractorFilesSkipped   prometheus.Counter

	embedRetries   prometheus.Counter
	embedExhausted prometheus.Counter

	retrievalKeywordFailures  prometheus.Counter
	retrievalSemanticFailures prometheus.Counter
	retrievalFallbacks        prometheus.Counter

	composerFallbacks prometheus.Counter

	stepDuration *prometheus.HistogramVec
}

var m pipelineMetrics

func (p *pipelineMetrics) init() {
	p.once.Do(func() {
		p.jobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_jobs_claimed_total", Help: "Jobs claimed by an engine worker"})
		p.jobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_jobs_completed_total", Help: "Jobs that reached the completed state"})
		p.jobsRequeued = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_jobs_requeued_total", Help: "Jobs requeued after a transient step failure"})
		p.jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_jobs_failed_total", Help: "Jobs that reached the failed state"})

		p.extractorFilesProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_extractor_files_processed_total", Help: "Source files successfully parsed"})
		p.extractorFilesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_extractor_files_skipped_total", Help: "Source files skipped (unrecognized extension or parse failure)"})

		p.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_embed_retries_total", Help: "Embedding client retry attempts"})
		p.embedExhausted = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_embed_exhausted_total", Help: "Embedding calls that exhausted their retry budget"})

		p.retrievalKeywordFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_retrieval_keyword_failures_total", Help: "Full-text search source failures during retrieval"})
		p.retrievalSemanticFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_retrieval_semantic_failures_total", Help: "Vector search source failures during retrieval"})
		p.retrievalFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_retrieval_fallbacks_total", Help: "Retrievals that fell back to default ranking"})

		p.composerFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "repograph_composer_fallbacks_total", Help: "Answers produced via the deterministic summary fallback"})

		p.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repograph_job_step_duration_seconds",
			Help:    "Duration of a single job engine step",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"step"})

		prometheus.MustRegister(
			p.jobsClaimed, p.jobsCompleted, p.jobsRequeued, p.jobsFailed,
			p.extractorFilesProcessed, p.extractorFilesSkipped,
			p.embedRetries, p.embedExhausted,
			p.retrievalKeywordFailures, p.retrievalSemanticFailures, p.retrievalFallbacks,
			p.composerFallbacks,
			p.stepDuration,
		)
	})
}

func JobClaimed()               { m.init(); m.jobsClaimed.Inc() }
func JobCompleted()              { m.init(); m.jobsCompleted.Inc() }
func JobRequeued()               { m.init(); m.jobsRequeued.Inc() }
func JobFailed()                 { m.init(); m.jobsFailed.Inc() }
func ExtractorFileProcessed()    { m.init(); m.extractorFilesProcessed.Inc() }
func ExtractorFileSkipped()      { m.init(); m.extractorFilesSkipped.Inc() }
func EmbedRetry()                { m.init(); m.embedRetries.Inc() }
func EmbedExhausted()            { m.init(); m.embedExhausted.Inc() }
func RetrievalKeywordFailure()   { m.init(); m.retrievalKeywordFailures.Inc() }
func RetrievalSemanticFailure()  { m.init(); m.retrievalSemanticFailures.Inc() }
func RetrievalFallback()         { m.init(); m.retrievalFallbacks.Inc() }
func ComposerFallback()          { m.init(); m.composerFallbacks.Inc() }

// ObserveStepDuration records how long a named job engine step took.
func ObserveStepDuration(step string, seconds float64) {
	m.init()
	m.stepDuration.WithLabelValues(step).Observe(seconds)
}
