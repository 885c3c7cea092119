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

package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often the janitor sweeps.
const DefaultCleanupInterval = 5 * time.Minute

// sweepTimeout bounds a single janitor pass.
const sweepTimeout = time.Minute

// Janitor periodically expires stale sessions and drops events past
// their TTL. It is the only component that scans the session store.
type Janitor struct {
	manager  *Manager
	logger   *zap.Logger
	cron     *cron.Cron
	interval time.Duration

	sweeps            atomic.Int64
	lastSessionsSwept atomic.Int64
	lastEventsDropped atomic.Int64
}

// JanitorStats is a snapshot of janitor activity.
type JanitorStats struct {
	Sweeps            int64 `json:"sweeps"`
	LastSessionsSwept int64 `json:"last_sessions_swept"`
	LastEventsDropped int64 `json:"last_events_dropped"`
}

// NewJanitor creates a Janitor sweeping every interval. A non-positive
// interval falls back to DefaultCleanupInterval.
func NewJanitor(manager *Manager, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		manager:  manager,
		logger:   logger,
		cron:     cron.New(),
		interval: interval,
	}
}

// Start schedules the sweep and begins running it.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc("@every "+j.interval.String(), j.sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("session janitor started", zap.Duration("interval", j.interval))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep, bounded by ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	cronCtx := j.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		j.logger.Warn("janitor shutdown timeout, sweep may still be running")
		return ctx.Err()
	}
	j.logger.Info("session janitor stopped")
	return nil
}

// Sweep runs one cleanup pass immediately. The cron schedule calls this
// on every tick; tests call it directly.
func (j *Janitor) Sweep(ctx context.Context) (sessions, events int, err error) {
	sessions, events, err = j.manager.CleanupExpired(ctx)
	if err != nil {
		return sessions, events, err
	}
	j.sweeps.Add(1)
	j.lastSessionsSwept.Store(int64(sessions))
	j.lastEventsDropped.Store(int64(events))
	return sessions, events, nil
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	sessions, events, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Warn("janitor sweep failed", zap.Error(err))
		return
	}
	if sessions > 0 || events > 0 {
		j.logger.Info("janitor sweep",
			zap.Int("sessions_expired", sessions),
			zap.Int("events_dropped", events))
	}
}

// Stats returns a snapshot of janitor activity.
func (j *Janitor) Stats() JanitorStats {
	return JanitorStats{
		Sweeps:            j.sweeps.Load(),
		LastSessionsSwept: j.lastSessionsSwept.Load(),
		LastEventsDropped: j.lastEventsDropped.Load(),
	}
}
