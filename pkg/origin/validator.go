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

// Package origin validates HTTP Origin headers against an allowlist to
// stop DNS-rebinding attacks on locally bound MCP servers. Validation is
// deterministic for identical inputs; the only side effects of a denial
// are a counter in the backbone cache and one structured log line.
package origin

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/backbone"
)

// BlockedCounterKey is the cache key holding the monotonic count of
// blocked origin attempts, surfaced as origin_blocks_total.
const BlockedCounterKey = "origin:blocked"

// Config controls the validator. Patterns come in three forms, tried in
// order: exact origins ("http://localhost:3000"), wildcard host/port
// forms where "*" stands for one host label or the port
// ("http://*.example.com", "http://localhost:*"), and protocol prefixes
// ("file://", "vscode-webview://").
type Config struct {
	AllowedOrigins          []string
	AllowLocalhost          bool
	AllowFileProtocol       bool
	AllowVSCodeWebview      bool
	RequireOriginHeader     bool
	LogUnauthorizedAttempts bool
}

// Result is the outcome of one validation.
type Result struct {
	Allowed        bool
	Reason         string
	MatchedPattern string
}

// Validator checks Origin headers. Safe for concurrent use; the pattern
// set can be swapped at runtime via SetPatterns.
type Validator struct {
	mu     sync.RWMutex
	cfg    Config
	cache  backbone.Cache
	logger *zap.Logger
}

// NewValidator creates a Validator. cache may be nil to disable the
// blocked counter; a nil logger defaults to a no-op logger.
func NewValidator(cfg Config, cache backbone.Cache, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, cache: cache, logger: logger}
}

// SetPatterns atomically replaces the allowlist, for hot reload.
func (v *Validator) SetPatterns(patterns []string) {
	v.mu.Lock()
	v.cfg.AllowedOrigins = append([]string(nil), patterns...)
	v.mu.Unlock()
	v.logger.Info("origin allowlist replaced", zap.Int("patterns", len(patterns)))
}

// Config returns a copy of the active configuration.
func (v *Validator) Config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cfg := v.cfg
	cfg.AllowedOrigins = append([]string(nil), v.cfg.AllowedOrigins...)
	return cfg
}

// Validate checks one Origin header value. An empty origin means the
// header was absent.
func (v *Validator) Validate(ctx context.Context, originHeader string) Result {
	v.mu.RLock()
	cfg := v.cfg
	patterns := v.cfg.AllowedOrigins
	v.mu.RUnlock()

	if originHeader == "" {
		if cfg.RequireOriginHeader {
			v.recordBlock(ctx, originHeader, "origin_required")
			return Result{Allowed: false, Reason: "origin_required"}
		}
		return Result{Allowed: true, Reason: "no origin header"}
	}

	// Exact matches first.
	for _, p := range patterns {
		if p == originHeader {
			return Result{Allowed: true, Reason: "exact match", MatchedPattern: p}
		}
	}

	if cfg.AllowLocalhost && isLocalhost(originHeader) {
		return Result{Allowed: true, Reason: "localhost", MatchedPattern: "localhost"}
	}
	if cfg.AllowFileProtocol && strings.HasPrefix(originHeader, "file://") {
		return Result{Allowed: true, Reason: "file protocol", MatchedPattern: "file://"}
	}
	if cfg.AllowVSCodeWebview && strings.HasPrefix(originHeader, "vscode-webview://") {
		return Result{Allowed: true, Reason: "vscode webview", MatchedPattern: "vscode-webview://"}
	}

	// Wildcard host/port patterns.
	for _, p := range patterns {
		if strings.Contains(p, "*") && matchWildcard(p, originHeader) {
			return Result{Allowed: true, Reason: "wildcard match", MatchedPattern: p}
		}
	}

	// Protocol prefixes.
	for _, p := range patterns {
		if strings.HasSuffix(p, "://") && strings.HasPrefix(originHeader, p) {
			return Result{Allowed: true, Reason: "protocol match", MatchedPattern: p}
		}
	}

	v.recordBlock(ctx, originHeader, "origin_blocked")
	return Result{Allowed: false, Reason: "origin_blocked"}
}

func (v *Validator) recordBlock(ctx context.Context, originHeader, reason string) {
	v.mu.RLock()
	logIt := v.cfg.LogUnauthorizedAttempts
	v.mu.RUnlock()

	if logIt {
		v.logger.Warn("unauthorized origin",
			zap.String("origin", originHeader),
			zap.String("reason", reason))
	}
	if v.cache != nil {
		if _, err := backbone.IncrCounter(ctx, v.cache, BlockedCounterKey); err != nil {
			v.logger.Debug("origin block counter update failed", zap.Error(err))
		}
	}
}

func isLocalhost(originHeader string) bool {
	scheme, rest, ok := splitScheme(originHeader)
	if !ok {
		return false
	}
	switch scheme {
	case "http", "https", "ws", "wss":
	default:
		return false
	}
	host, _ := splitHostPort(rest)
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "[::1]", "::1":
		return true
	}
	return false
}

// matchWildcard matches origin against a pattern where "*" stands for
// exactly one host label or the whole port. A pattern without a scheme
// matches any scheme.
func matchWildcard(pattern, originHeader string) bool {
	pScheme, pRest, pHasScheme := splitScheme(pattern)
	oScheme, oRest, oHasScheme := splitScheme(originHeader)
	if !oHasScheme {
		oRest = originHeader
	}
	if pHasScheme && pScheme != "*" && !strings.EqualFold(pScheme, oScheme) {
		return false
	}

	pHost, pPort := splitHostPort(pRest)
	oHost, oPort := splitHostPort(oRest)

	if pPort == "" {
		if oPort != "" {
			return false
		}
	} else if pPort != "*" && pPort != oPort {
		return false
	}

	pLabels := strings.Split(pHost, ".")
	oLabels := strings.Split(oHost, ".")
	if len(pLabels) != len(oLabels) {
		return false
	}
	for i := range pLabels {
		if pLabels[i] == "*" {
			continue
		}
		if !strings.EqualFold(pLabels[i], oLabels[i]) {
			return false
		}
	}
	return true
}

func splitScheme(s string) (scheme, rest string, ok bool) {
	idx := strings.Index(s, "://")
	if idx < 0 {
		return "", s, false
	}
	return s[:idx], s[idx+3:], true
}

// splitHostPort separates host and port, tolerating bracketed IPv6 hosts.
func splitHostPort(s string) (host, port string) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return s, ""
		}
		host = s[:end+1]
		if len(s) > end+1 && s[end+1] == ':' {
			port = s[end+2:]
		}
		return host, port
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
