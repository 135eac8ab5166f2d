/*
SPDX-FileCopyrightText: Copyright 2025 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Fleet metrics are push-style (updated as the selector and migration
// pipeline make decisions) rather than scraped at collection time like
// Collector above, so they're plain registered vectors instead of a
// custom prometheus.Collector.
var (
	constraintEvalTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prometheus.BuildFQName("igvm", "selector", "constraint_evaluations_total"),
		Help: "Number of times a placement constraint was evaluated for a candidate hypervisor, by constraint name and outcome.",
	}, []string{"constraint", "result"})

	preferenceScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prometheus.BuildFQName("igvm", "selector", "preference_score"),
		Help:    "Distribution of individual preference scores computed while ranking candidate hypervisors.",
		Buckets: prometheus.DefBuckets,
	}, []string{"preference"})

	migrationDiskRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName("igvm", "migration", "disk_progress_ratio"),
		Help: "Fraction of disk data copied by the in-flight migration job, 0 to 1.",
	}, []string{"vm"})

	migrationMemRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName("igvm", "migration", "memory_progress_ratio"),
		Help: "Fraction of guest memory copied by the in-flight migration job, 0 to 1.",
	}, []string{"vm"})

	migrationDiskBps = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: prometheus.BuildFQName("igvm", "migration", "disk_bytes_per_second"),
		Help: "Current disk transfer rate of the in-flight migration job.",
	}, []string{"vm"})
)

// RegisterFleetMetrics adds the selector and migration gauges/counters to
// reg. Call once per process; igvmd does this alongside NewCollector.
func RegisterFleetMetrics(reg prometheus.Registerer) {
	reg.MustRegister(constraintEvalTotal, preferenceScore, migrationDiskRatio, migrationMemRatio, migrationDiskBps)
}

// RecordConstraint observes one constraint evaluation outcome, fed by
// internal/selector.Filter for every (candidate, constraint) pair it checks.
func RecordConstraint(name string, fulfilled bool) {
	result := "fail"
	if fulfilled {
		result = "pass"
	}
	constraintEvalTotal.WithLabelValues(name, result).Inc()
}

// RecordPreferenceScore observes one preference's score, fed by
// internal/selector.Rank for every (candidate, preference) pair it scores.
func RecordPreferenceScore(name string, score float64) {
	preferenceScore.WithLabelValues(name).Observe(score)
}

// RecordMigrationProgress updates the gauges tracking an in-flight
// migration's disk/memory completion ratio and disk transfer rate, fed by
// internal/migration.Watch's report callback.
func RecordMigrationProgress(vmHostname string, diskProcessed, diskTotal, memProcessed, memTotal, diskBps uint64) {
	if diskTotal > 0 {
		migrationDiskRatio.WithLabelValues(vmHostname).Set(float64(diskProcessed) / float64(diskTotal))
	}
	if memTotal > 0 {
		migrationMemRatio.WithLabelValues(vmHostname).Set(float64(memProcessed) / float64(memTotal))
	}
	migrationDiskBps.WithLabelValues(vmHostname).Set(float64(diskBps))
}

// ClearMigrationProgress removes vmHostname's gauges once its migration
// job has finished, so a completed VM doesn't linger in /metrics forever.
func ClearMigrationProgress(vmHostname string) {
	migrationDiskRatio.DeleteLabelValues(vmHostname)
	migrationMemRatio.DeleteLabelValues(vmHostname)
	migrationDiskBps.DeleteLabelValues(vmHostname)
}
