// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package state

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *managerMetrics
)

type managerMetrics struct {
	commits          *prometheus.CounterVec
	commitDuration   prometheus.Histogram
	recoveries       *prometheus.CounterVec
	rollbacks        *prometheus.CounterVec
	rolledBackBlocks prometheus.Counter
	height           prometheus.Gauge
	backupBytes      prometheus.Counter
}

func newManagerMetrics() *managerMetrics {
	metricsInitOnce.Do(func() {
		m := &managerMetrics{
			commits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "iconsvc_state_commits_total",
				Help: "Block commits by result.",
			}, []string{"result"}),
			commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "iconsvc_state_commit_seconds",
				Help:    "Duration of block commits including the backup.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			}),
			recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "iconsvc_state_recoveries_total",
				Help: "Startup recoveries by action taken.",
			}, []string{"action"}),
			rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "iconsvc_state_rollbacks_total",
				Help: "Rollbacks by result.",
			}, []string{"result"}),
			rolledBackBlocks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "iconsvc_state_rolled_back_blocks_total",
				Help: "Number of blocks reverted by rollbacks.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "iconsvc_state_height",
				Help: "Height of the last committed block.",
			}),
			backupBytes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "iconsvc_state_backup_bytes_total",
				Help: "Payload bytes written to block backups.",
			}),
		}
		prometheus.MustRegister(m.commits, m.commitDuration, m.recoveries, m.rollbacks, m.rolledBackBlocks, m.height, m.backupBytes)
		sharedMetrics = m
	})
	return sharedMetrics
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
