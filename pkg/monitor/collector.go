// Copyright 2026 OneAgent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/a2a"
	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/origin"
	"github.com/oneagent-io/oneagent/pkg/tools"
)

const scrapeTimeout = 5 * time.Second

// Collector adapts the cache counters to Prometheus exposition. Every
// scrape reads the cache; nothing is sampled or buffered in between.
type Collector struct {
	monitor *Monitor

	activeSessions     *prometheus.Desc
	sessionsCreated    *prometheus.Desc
	sessionsExpired    *prometheus.Desc
	sessionsTerminated *prometheus.Desc
	eventsAdded        *prometheus.Desc
	eventsReplayed     *prometheus.Desc
	agentsRegistered   *prometheus.Desc
	a2aSessions        *prometheus.Desc
	messages           *prometheus.Desc
	toolsRegistered    *prometheus.Desc
	toolsInvoked       *prometheus.Desc
	toolErrors         *prometheus.Desc
	toolLatency        *prometheus.Desc
	originBlocked      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds the collector over a Monitor.
func NewCollector(m *Monitor) *Collector {
	return &Collector{
		monitor: m,
		activeSessions: prometheus.NewDesc("oneagent_sessions_active",
			"Sessions currently in the ACTIVE state.", nil, nil),
		sessionsCreated: prometheus.NewDesc("oneagent_sessions_created_total",
			"Sessions created since startup.", nil, nil),
		sessionsExpired: prometheus.NewDesc("oneagent_sessions_expired_total",
			"Sessions expired by the idle timeout.", nil, nil),
		sessionsTerminated: prometheus.NewDesc("oneagent_sessions_terminated_total",
			"Sessions terminated by clients or operators.", nil, nil),
		eventsAdded: prometheus.NewDesc("oneagent_events_added_total",
			"Events persisted to session event logs.", nil, nil),
		eventsReplayed: prometheus.NewDesc("oneagent_events_replayed_total",
			"Events replayed to resuming clients.", nil, nil),
		agentsRegistered: prometheus.NewDesc("oneagent_agents_registered_total",
			"Agents registered with the communication service.", nil, nil),
		a2aSessions: prometheus.NewDesc("oneagent_conversations_created_total",
			"Agent conversation sessions created.", nil, nil),
		messages: prometheus.NewDesc("oneagent_messages_total",
			"Agent messages by outcome.", []string{"outcome"}, nil),
		toolsRegistered: prometheus.NewDesc("oneagent_tools_registered_total",
			"Tools registered.", nil, nil),
		toolsInvoked: prometheus.NewDesc("oneagent_tool_invocations_total",
			"Tool invocations.", nil, nil),
		toolErrors: prometheus.NewDesc("oneagent_tool_errors_total",
			"Tool invocations that returned an error result.", nil, nil),
		toolLatency: prometheus.NewDesc("oneagent_tool_latency_ms",
			"Tool invocation latency histogram in milliseconds.", nil, nil),
		originBlocked: prometheus.NewDesc("oneagent_origin_blocked_total",
			"Requests rejected by origin validation.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.activeSessions, c.sessionsCreated, c.sessionsExpired,
		c.sessionsTerminated, c.eventsAdded, c.eventsReplayed,
		c.agentsRegistered, c.a2aSessions, c.messages,
		c.toolsRegistered, c.toolsInvoked, c.toolErrors,
		c.toolLatency, c.originBlocked,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	m := c.monitor
	sm, err := m.sessions.Metrics(ctx)
	if err != nil {
		m.logger.Warn("metrics scrape failed", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(sm.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.sessionsCreated, prometheus.CounterValue, float64(sm.SessionsCreated))
	ch <- prometheus.MustNewConstMetric(c.sessionsExpired, prometheus.CounterValue, float64(sm.SessionsExpired))
	ch <- prometheus.MustNewConstMetric(c.sessionsTerminated, prometheus.CounterValue, float64(sm.SessionsTerminated))
	ch <- prometheus.MustNewConstMetric(c.eventsAdded, prometheus.CounterValue, float64(sm.EventsAdded))
	ch <- prometheus.MustNewConstMetric(c.eventsReplayed, prometheus.CounterValue, float64(sm.EventsReplayed))

	cache := m.bb.Cache()
	counter := func(key string) float64 {
		v, err := backbone.GetCounter(ctx, cache, key)
		if err != nil {
			m.logger.Warn("counter read failed", zap.String("key", key), zap.Error(err))
			return 0
		}
		return float64(v)
	}
	ch <- prometheus.MustNewConstMetric(c.agentsRegistered, prometheus.CounterValue, counter(a2a.CounterAgentsRegistered))
	ch <- prometheus.MustNewConstMetric(c.a2aSessions, prometheus.CounterValue, counter(a2a.CounterSessionsCreated))
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, counter(a2a.CounterMessagesSent), "sent")
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, counter(a2a.CounterMessagesDelivered), "delivered")
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, counter(a2a.CounterMessagesDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.toolsRegistered, prometheus.CounterValue, counter(tools.CounterToolsRegistered))
	ch <- prometheus.MustNewConstMetric(c.toolsInvoked, prometheus.CounterValue, counter(tools.CounterToolsInvoked))
	ch <- prometheus.MustNewConstMetric(c.toolErrors, prometheus.CounterValue, counter(tools.CounterToolErrors))
	ch <- prometheus.MustNewConstMetric(c.originBlocked, prometheus.CounterValue, counter(origin.BlockedCounterKey))

	buckets := make(map[float64]uint64, len(tools.LatencyBucketsMS))
	var cumulative uint64
	for _, le := range tools.LatencyBucketsMS {
		cumulative = uint64(counter(tools.LatencyBucketKey(le)))
		buckets[float64(le)] = cumulative
	}
	count := uint64(counter(tools.LatencyBucketInfKey))
	sum := counter(tools.CounterToolLatencySum)
	ch <- prometheus.MustNewConstHistogram(c.toolLatency, count, sum, buckets)
}
