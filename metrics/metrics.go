// Copyright 2026 The TangleTunes Authors
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

// Package metrics exports chunk download statistics to Prometheus
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tangletunes/tunes/protocol/chunkfetch"
)

const (
	namespaceTunes    = "tangletunes"
	subsystemDownload = "download"
)

const LabelResult = "result"

// Download results used as values of the result label
const (
	ResultSuccess           = "success"
	ResultConnection        = "connection"
	ResultStreamClosed      = "stream_closed"
	ResultProtocolViolation = "protocol_violation"
	ResultVerification      = "verification"
	ResultCanceled          = "canceled"
	ResultOther             = "other"
)

var _ chunkfetch.MetricsRecorder = (*DownloadCollector)(nil)

// DownloadCollector records chunk fetch events
type DownloadCollector struct {
	requests        prometheus.Counter
	requestedChunks prometheus.Counter
	frames          prometheus.Counter
	receivedBytes   prometheus.Counter
	downloads       *prometheus.CounterVec
	duration        prometheus.Histogram
	attempts        prometheus.Counter
}

// NewDownloadCollector returns a collector that is not registered anywhere yet
func NewDownloadCollector() *DownloadCollector {
	return &DownloadCollector{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "requests_total",
			Help:      "number of chunk requests sent to distributors",
		}),
		requestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "requested_chunks_total",
			Help:      "number of chunks asked for in chunk requests",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "frames_total",
			Help:      "number of chunk frames received from distributors",
		}),
		receivedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "received_bytes_total",
			Help:      "number of chunk payload bytes received from distributors",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "downloads_total",
			Help:      "number of finished downloads by result",
		}, []string{LabelResult}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "duration_seconds",
			Help:      "time spent on a single download attempt",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceTunes,
			Subsystem: subsystemDownload,
			Name:      "distributor_attempts_total",
			Help:      "number of distributors tried by song downloads",
		}),
	}
}

// Register adds every metric of the collector to registerer
func (c *DownloadCollector) Register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.requests,
		c.requestedChunks,
		c.frames,
		c.receivedBytes,
		c.downloads,
		c.duration,
		c.attempts,
	} {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (c *DownloadCollector) RecordRequest(chunkCount int) {
	c.requests.Inc()
	c.requestedChunks.Add(float64(chunkCount))
}

func (c *DownloadCollector) RecordFrame(payloadLength int) {
	c.frames.Inc()
	c.receivedBytes.Add(float64(payloadLength))
}

func (c *DownloadCollector) RecordDownload(duration time.Duration, _ int, err error) {
	c.duration.Observe(duration.Seconds())
	c.downloads.WithLabelValues(Result(err)).Inc()
}

// RecordAttempt counts a distributor tried by a song download
func (c *DownloadCollector) RecordAttempt() {
	c.attempts.Inc()
}

// Result maps a download error to the value of the result label
func Result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, context.Canceled):
		return ResultCanceled
	case errors.Is(err, chunkfetch.ErrConnection):
		return ResultConnection
	case errors.Is(err, chunkfetch.ErrStreamClosedEarly):
		return ResultStreamClosed
	case errors.Is(err, chunkfetch.ErrProtocolViolation):
		return ResultProtocolViolation
	case errors.Is(err, chunkfetch.ErrVerificationFailed):
		return ResultVerification
	default:
		return ResultOther
	}
}
