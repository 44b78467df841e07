// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outcomes counts terminal pipeline results by status.
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_outcomes_total",
			Help: "Ingestion outcomes by terminal status",
		},
		[]string{"status"}, // succeeded_with_email, succeeded_no_entity, failed
	)

	// FetchDuration is the remote body fetch latency.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Remote body fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"result"}, // ok, missing, error
	)

	// DecryptFailures counts decryption units that fell back to a placeholder.
	DecryptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_decrypt_failures_total",
			Help: "Decryption failures by content unit",
		},
		[]string{"unit"},
	)

	// AttachmentFailures counts attachment descriptors that could not be resolved or stored.
	AttachmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_attachment_failures_total",
			Help: "Attachments skipped because of malformed descriptors or storage errors",
		},
	)

	// Duplicates counts events short-circuited as already ingested.
	Duplicates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_duplicates_total",
			Help: "Events short-circuited as duplicates by detection stage",
		},
		[]string{"stage"}, // claim, pre_fetch, post_fetch, store
	)
)

// RecordOutcome increments the outcome counter.
func RecordOutcome(status string) {
	Outcomes.WithLabelValues(status).Inc()
}

// RecordFetch observes a remote fetch.
func RecordFetch(result string, d time.Duration) {
	FetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordDecryptFailure increments the decrypt failure counter for a unit.
func RecordDecryptFailure(unit string) {
	DecryptFailures.WithLabelValues(unit).Inc()
}

// RecordDuplicate increments the duplicate counter for a stage.
func RecordDuplicate(stage string) {
	Duplicates.WithLabelValues(stage).Inc()
}

// RecordAttachmentFailure counts one attachment that was skipped.
func RecordAttachmentFailure() {
	AttachmentFailures.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
