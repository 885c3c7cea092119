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

package a2a

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

// DefaultHeartbeatInterval is the cadence agents are expected to report
// health at; the liveness timeout defaults to three times this.
const DefaultHeartbeatInterval = 30 * time.Second

// Registry tracks known agents in the backbone cache: "agent:{id}"
// records, an "agent:ids" set for iteration, and one
// "agent:capability:{cap}" set per capability. Health is passive: agents
// report it on heartbeat, and agents silent past the liveness timeout
// transition to offline.
type Registry struct {
	bb               *backbone.Backbone
	bus              *EventBus
	logger           *zap.Logger
	heartbeatTimeout time.Duration
}

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	// HeartbeatInterval is the expected report cadence. Defaults to
	// DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout defaults to 3x HeartbeatInterval.
	HeartbeatTimeout time.Duration
	Logger           *zap.Logger
}

// NewRegistry creates a Registry. bus may be nil to disable events.
func NewRegistry(bb *backbone.Backbone, bus *EventBus, opts RegistryOptions) *Registry {
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	timeout := opts.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 3 * interval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{bb: bb, bus: bus, logger: logger, heartbeatTimeout: timeout}
}

// Register stores an agent. A missing id gets a generated one; an
// existing id is replaced last-write-wins. Returns the agent id.
func (r *Registry) Register(ctx context.Context, agent *Agent) (string, error) {
	if agent == nil {
		return "", fault.New(fault.KindInvalidParams, "agent is required")
	}
	if agent.Name == "" {
		return "", fault.New(fault.KindInvalidParams, "agent name is required")
	}
	if agent.ID == "" {
		agent.ID = r.bb.NewID("agent")
	}
	if agent.Status == "" {
		agent.Status = StatusOnline
	}
	now := r.bb.Now()
	agent.RegisteredAt = now
	agent.LastHeartbeat = now

	// Re-registration may change the capability set; drop stale members.
	prev, err := r.Get(ctx, agent.ID)
	if err != nil && !fault.IsKind(err, fault.KindNotFound) {
		return "", err
	}

	if err := r.save(ctx, agent); err != nil {
		return "", err
	}
	cache := r.bb.Cache()
	if prev != nil {
		for _, cap := range prev.Capabilities {
			if !hasString(agent.Capabilities, cap) {
				if err := cache.SetRemove(ctx, agentCapKeyPrefix+cap, agent.ID); err != nil {
					return "", err
				}
			}
		}
	}
	if err := cache.SetAdd(ctx, agentIDsKey, agent.ID); err != nil {
		return "", err
	}
	for _, cap := range agent.Capabilities {
		if err := cache.SetAdd(ctx, agentCapKeyPrefix+cap, agent.ID); err != nil {
			return "", err
		}
	}

	if prev == nil {
		if _, err := backbone.IncrCounter(ctx, cache, CounterAgentsRegistered); err != nil {
			r.logger.Debug("agent counter update failed", zap.Error(err))
		}
	}
	r.emit(Event{Type: EventAgentRegistered, AgentID: agent.ID, Timestamp: now})
	r.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.Strings("capabilities", agent.Capabilities))
	return agent.ID, nil
}

// Deregister removes an agent and its capability index entries.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	agent, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	cache := r.bb.Cache()
	for _, cap := range agent.Capabilities {
		if err := cache.SetRemove(ctx, agentCapKeyPrefix+cap, id); err != nil {
			return err
		}
	}
	if err := cache.SetRemove(ctx, agentIDsKey, id); err != nil {
		return err
	}
	if err := cache.Delete(ctx, agentKeyPrefix+id); err != nil {
		return err
	}
	r.emit(Event{Type: EventAgentDeregistered, AgentID: id, Timestamp: r.bb.Now()})
	return nil
}

// Get returns one agent or a not_found fault.
func (r *Registry) Get(ctx context.Context, id string) (*Agent, error) {
	raw, ok, err := r.bb.Cache().Get(ctx, agentKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "agent not found: %s", id)
	}
	var agent Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "decode agent record")
	}
	return &agent, nil
}

// DiscoverFilter narrows Discover results. Zero value matches all.
type DiscoverFilter struct {
	// Capabilities must all be present on a matching agent.
	Capabilities []string
	// Status keeps agents in exactly this status.
	Status AgentStatus
	// HealthStatus keeps agents whose reported health class matches.
	HealthStatus string
}

// Discover returns agents matching the filter.
func (r *Registry) Discover(ctx context.Context, filter DiscoverFilter) ([]*Agent, error) {
	ids, err := r.bb.Cache().SetMembers(ctx, agentIDsKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := r.Get(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		if filter.Status != "" && agent.Status != filter.Status {
			continue
		}
		if filter.HealthStatus != "" && agent.Health.Status != filter.HealthStatus {
			continue
		}
		if !hasAllStrings(agent.Capabilities, filter.Capabilities) {
			continue
		}
		out = append(out, agent)
	}
	return out, nil
}

// UpdateStatus sets an agent's declared status and emits
// agent_status_changed when it changes.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status AgentStatus) error {
	agent, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if agent.Status == status {
		return nil
	}
	old := agent.Status
	agent.Status = status
	if err := r.save(ctx, agent); err != nil {
		return err
	}
	r.emit(Event{
		Type:      EventAgentStatusChanged,
		AgentID:   id,
		Payload:   map[string]interface{}{"from": string(old), "to": string(status)},
		Timestamp: r.bb.Now(),
	})
	return nil
}

// Heartbeat records a health report, refreshes the liveness deadline,
// and brings an offline agent back online.
func (r *Registry) Heartbeat(ctx context.Context, id string, health Health) error {
	agent, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	now := r.bb.Now()
	healthChanged := agent.Health.Status != "" && agent.Health.Status != health.Status
	agent.Health = health
	agent.Health.LastActivity = now
	agent.LastHeartbeat = now

	wasOffline := agent.Status == StatusOffline
	if wasOffline {
		agent.Status = StatusOnline
	}
	if err := r.save(ctx, agent); err != nil {
		return err
	}
	if wasOffline {
		r.emit(Event{
			Type:      EventAgentStatusChanged,
			AgentID:   id,
			Payload:   map[string]interface{}{"from": string(StatusOffline), "to": string(StatusOnline)},
			Timestamp: now,
		})
	}
	if healthChanged {
		r.emit(Event{
			Type:      EventHealthChanged,
			AgentID:   id,
			Payload:   map[string]interface{}{"status": health.Status},
			Timestamp: now,
		})
	}
	return nil
}

// Health returns the latest reported snapshot for an agent.
func (r *Registry) Health(ctx context.Context, id string) (*Health, error) {
	agent, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	h := agent.Health
	return &h, nil
}

// SweepOffline transitions agents whose heartbeats stopped past the
// liveness timeout to offline. Returns how many transitioned. Intended
// to run on the janitor cadence.
func (r *Registry) SweepOffline(ctx context.Context) (int, error) {
	ids, err := r.bb.Cache().SetMembers(ctx, agentIDsKey)
	if err != nil {
		return 0, err
	}
	now := r.bb.Now()
	swept := 0
	for _, id := range ids {
		agent, err := r.Get(ctx, id)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return swept, err
		}
		if agent.Status == StatusOffline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) <= r.heartbeatTimeout {
			continue
		}
		old := agent.Status
		agent.Status = StatusOffline
		if err := r.save(ctx, agent); err != nil {
			return swept, err
		}
		swept++
		r.emit(Event{
			Type:      EventAgentStatusChanged,
			AgentID:   id,
			Payload:   map[string]interface{}{"from": string(old), "to": string(StatusOffline), "reason": "heartbeat_timeout"},
			Timestamp: now,
		})
		r.logger.Warn("agent offline, heartbeat timeout",
			zap.String("agent_id", id),
			zap.Time("last_heartbeat", agent.LastHeartbeat))
	}
	return swept, nil
}

func (r *Registry) save(ctx context.Context, agent *Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "encode agent record")
	}
	return r.bb.Cache().Set(ctx, agentKeyPrefix+agent.ID, raw, 0)
}

func (r *Registry) emit(event Event) {
	if r.bus != nil {
		r.bus.Publish(event)
	}
}

func hasString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func hasAllStrings(haystack, needles []string) bool {
	for _, n := range needles {
		if !hasString(haystack, n) {
			return false
		}
	}
	return true
}
