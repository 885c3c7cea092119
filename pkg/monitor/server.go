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
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler serves /health, /health/sessions, and /metrics. Mount it
// alongside the MCP endpoint or on a separate listener.
func Handler(m *Monitor) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(m))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := m.HealthSnapshot(r.Context())
		writeJSON(m.logger, w, snapshot, err)
	})
	mux.HandleFunc("/health/sessions", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := m.SessionsSnapshot(r.Context())
		if snapshot == nil && err == nil {
			snapshot = []SessionSnapshot{}
		}
		writeJSON(m.logger, w, snapshot, err)
	})
	return mux
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, payload interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		logger.Warn("health endpoint failed", zap.Error(err))
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("health encode failed", zap.Error(err))
	}
}
