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

package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/oneagent-io/oneagent/pkg/backbone"
	"github.com/oneagent-io/oneagent/pkg/fault"
)

// Cache keys for the catalog and the invocation counters.
const (
	toolKeyPrefix     = "mcp:tool:"
	toolNamesKey      = "mcp:tool-names"
	resourceKeyPrefix = "mcp:resource:"
	resourceURIsKey   = "mcp:resource-uris"
	promptKeyPrefix   = "mcp:prompt:"
	promptNamesKey    = "mcp:prompt-names"

	CounterToolsRegistered = "metrics:tools:registered"
	CounterToolsInvoked    = "metrics:tools:invoked"
	CounterToolErrors      = "metrics:tools:errors"
	CounterToolLatencySum  = "metrics:tools:latency:sum_ms"
)

// LatencyBucketsMS are the cumulative histogram bounds, in milliseconds,
// for tool invocation latency. The monitoring layer reads the matching
// counters to build the Prometheus histogram.
var LatencyBucketsMS = []int64{5, 25, 100, 500, 2500}

// LatencyBucketKey returns the counter key for the bucket bounded at le
// milliseconds.
func LatencyBucketKey(le int64) string {
	return "metrics:tools:latency:le:" + strconv.FormatInt(le, 10)
}

// LatencyBucketInfKey is the counter key for the unbounded bucket.
const LatencyBucketInfKey = "metrics:tools:latency:le:inf"

// defaultInputSchema is used when a descriptor declares no schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// Registry is the tool, resource, and prompt catalog. Descriptors are
// persisted in the backbone cache; handlers, compiled schemas, readers,
// and prompt getters are process-local.
//
// Registration is deliberately quiet: no per-tool logging, so startup
// stays O(1) in log volume no matter how many tools load. Callers emit
// one aggregate line after batch registration.
type Registry struct {
	backbone *backbone.Backbone
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*gojsonschema.Schema
	readers  map[string]ResourceReader
	getters  map[string]PromptGetter
}

// NewRegistry creates an empty registry on the given backbone.
func NewRegistry(bb *backbone.Backbone, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		backbone: bb,
		logger:   logger,
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*gojsonschema.Schema),
		readers:  make(map[string]ResourceReader),
		getters:  make(map[string]PromptGetter),
	}
}

// Register adds a tool to the catalog. Registration is idempotent: a
// second call with the same name and an equivalent input schema replaces
// the handler; a different schema under the same name is a
// schema_conflict.
func (r *Registry) Register(ctx context.Context, desc Descriptor, handler Handler) error {
	if desc.Name == "" {
		return fault.New(fault.KindInvalidParams, "tool descriptor requires a name")
	}
	if handler == nil {
		return fault.Newf(fault.KindInvalidParams, "tool %s requires a handler", desc.Name)
	}
	if len(desc.InputSchema) == 0 {
		desc.InputSchema = defaultInputSchema
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(desc.InputSchema))
	if err != nil {
		return fault.Wrap(fault.KindInvalidParams, err, "compile input schema for "+desc.Name)
	}

	cache := r.backbone.Cache()
	key := toolKeyPrefix + desc.Name

	existing, found, err := cache.Get(ctx, key)
	if err != nil {
		return err
	}
	isNew := !found
	if found {
		var prev Descriptor
		if err := json.Unmarshal(existing, &prev); err != nil {
			return fault.Wrap(fault.KindInternal, err, "unmarshal stored descriptor")
		}
		if !schemasEquivalent(prev.InputSchema, desc.InputSchema) {
			return fault.Newf(fault.KindSchemaConflict,
				"tool %s already registered with a different input schema", desc.Name)
		}
	}

	raw, err := json.Marshal(&desc)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal descriptor")
	}
	if err := cache.Set(ctx, key, raw, 0); err != nil {
		return err
	}
	if err := cache.SetAdd(ctx, toolNamesKey, desc.Name); err != nil {
		return err
	}

	r.mu.Lock()
	r.handlers[desc.Name] = handler
	r.schemas[desc.Name] = compiled
	r.mu.Unlock()

	if isNew {
		if _, err := backbone.IncrCounter(ctx, cache, CounterToolsRegistered); err != nil {
			r.logger.Debug("tool counter update failed", zap.Error(err))
		}
	}
	return nil
}

// schemasEquivalent compares two JSON schemas structurally, ignoring key
// order and whitespace.
func schemasEquivalent(a, b json.RawMessage) bool {
	if len(a) == 0 {
		a = defaultInputSchema
	}
	if len(b) == 0 {
		b = defaultInputSchema
	}
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// Get returns the descriptor for name.
func (r *Registry) Get(ctx context.Context, name string) (*Descriptor, error) {
	raw, found, err := r.backbone.Cache().Get(ctx, toolKeyPrefix+name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fault.Newf(fault.KindNotFound, "tool not registered: %s", name)
	}
	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "unmarshal descriptor")
	}
	return &desc, nil
}

// List returns descriptors matching the filter, sorted by name. A nil
// filter returns the whole catalog.
func (r *Registry) List(ctx context.Context, filter *Filter) ([]*Descriptor, error) {
	names, err := r.backbone.Cache().SetMembers(ctx, toolNamesKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]*Descriptor, 0, len(names))
	for _, name := range names {
		desc, err := r.Get(ctx, name)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			return nil, err
		}
		if filter.matches(desc) {
			out = append(out, desc)
		}
	}
	return out, nil
}

// Invoke validates args against the tool's input schema and runs the
// handler. Both transports converge here, so behavior cannot drift
// between HTTP and stdio. Unknown names are method_not_found.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Newf(fault.KindMethodNotFound, "tool not registered: %s", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if schema != nil {
		outcome, err := schema.Validate(gojsonschema.NewBytesLoader(args))
		if err != nil {
			return nil, fault.Wrap(fault.KindInvalidParams, err, "validate arguments for "+name)
		}
		if !outcome.Valid() {
			msgs := make([]string, 0, len(outcome.Errors()))
			for _, desc := range outcome.Errors() {
				msgs = append(msgs, desc.String())
			}
			return nil, fault.Newf(fault.KindInvalidParams, "invalid arguments for %s: %s",
				name, strings.Join(msgs, "; "))
		}
	}

	start := r.backbone.Now()
	result, err := handler(ctx, args)
	r.observe(ctx, r.backbone.Now().Sub(start))

	if err != nil {
		if _, cerr := backbone.IncrCounter(ctx, r.backbone.Cache(), CounterToolErrors); cerr != nil {
			r.logger.Debug("tool counter update failed", zap.Error(cerr))
		}
		if _, ok := err.(*fault.Error); ok {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindInternal, err, "tool "+name)
	}
	if result == nil {
		result = &Result{Content: []Content{}}
	}
	return result, nil
}

// observe records one invocation in the cumulative latency buckets.
func (r *Registry) observe(ctx context.Context, d time.Duration) {
	cache := r.backbone.Cache()
	ms := d.Milliseconds()
	for _, le := range LatencyBucketsMS {
		if ms <= le {
			if _, err := backbone.IncrCounter(ctx, cache, LatencyBucketKey(le)); err != nil {
				r.logger.Debug("latency bucket update failed", zap.Error(err))
			}
		}
	}
	if _, err := backbone.IncrCounter(ctx, cache, LatencyBucketInfKey); err != nil {
		r.logger.Debug("latency bucket update failed", zap.Error(err))
	}
	if _, err := backbone.AddCounter(ctx, cache, CounterToolLatencySum, ms); err != nil {
		r.logger.Debug("latency sum update failed", zap.Error(err))
	}
	if _, err := backbone.IncrCounter(ctx, cache, CounterToolsInvoked); err != nil {
		r.logger.Debug("tool counter update failed", zap.Error(err))
	}
}

// RegisterResource adds a resource to the catalog, keyed by URI.
// Last write wins; resources carry no schema to conflict on.
func (r *Registry) RegisterResource(ctx context.Context, desc ResourceDescriptor, reader ResourceReader) error {
	if desc.URI == "" {
		return fault.New(fault.KindInvalidParams, "resource descriptor requires a uri")
	}
	if reader == nil {
		return fault.Newf(fault.KindInvalidParams, "resource %s requires a reader", desc.URI)
	}
	raw, err := json.Marshal(&desc)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal resource descriptor")
	}
	cache := r.backbone.Cache()
	if err := cache.Set(ctx, resourceKeyPrefix+desc.URI, raw, 0); err != nil {
		return err
	}
	if err := cache.SetAdd(ctx, resourceURIsKey, desc.URI); err != nil {
		return err
	}
	r.mu.Lock()
	r.readers[desc.URI] = reader
	r.mu.Unlock()
	return nil
}

// ListResources returns all resource descriptors sorted by URI.
func (r *Registry) ListResources(ctx context.Context) ([]*ResourceDescriptor, error) {
	uris, err := r.backbone.Cache().SetMembers(ctx, resourceURIsKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(uris)

	out := make([]*ResourceDescriptor, 0, len(uris))
	for _, uri := range uris {
		raw, found, err := r.backbone.Cache().Get(ctx, resourceKeyPrefix+uri)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var desc ResourceDescriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal resource descriptor")
		}
		out = append(out, &desc)
	}
	return out, nil
}

// ReadResource returns the contents of the resource at uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	r.mu.RLock()
	reader, ok := r.readers[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "resource not registered: %s", uri)
	}
	contents, err := reader(ctx)
	if err != nil {
		if _, ok := err.(*fault.Error); ok {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindInternal, err, "read resource "+uri)
	}
	return contents, nil
}

// RegisterPrompt adds a prompt to the catalog, keyed by name.
func (r *Registry) RegisterPrompt(ctx context.Context, desc PromptDescriptor, getter PromptGetter) error {
	if desc.Name == "" {
		return fault.New(fault.KindInvalidParams, "prompt descriptor requires a name")
	}
	if getter == nil {
		return fault.Newf(fault.KindInvalidParams, "prompt %s requires a getter", desc.Name)
	}
	raw, err := json.Marshal(&desc)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "marshal prompt descriptor")
	}
	cache := r.backbone.Cache()
	if err := cache.Set(ctx, promptKeyPrefix+desc.Name, raw, 0); err != nil {
		return err
	}
	if err := cache.SetAdd(ctx, promptNamesKey, desc.Name); err != nil {
		return err
	}
	r.mu.Lock()
	r.getters[desc.Name] = getter
	r.mu.Unlock()
	return nil
}

// ListPrompts returns all prompt descriptors sorted by name.
func (r *Registry) ListPrompts(ctx context.Context) ([]*PromptDescriptor, error) {
	names, err := r.backbone.Cache().SetMembers(ctx, promptNamesKey)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]*PromptDescriptor, 0, len(names))
	for _, name := range names {
		raw, found, err := r.backbone.Cache().Get(ctx, promptKeyPrefix+name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var desc PromptDescriptor
		if err := json.Unmarshal(raw, &desc); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "unmarshal prompt descriptor")
		}
		out = append(out, &desc)
	}
	return out, nil
}

// GetPrompt renders the named prompt. Required arguments missing from
// args fail with invalid_params.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (*PromptResult, error) {
	raw, found, err := r.backbone.Cache().Get(ctx, promptKeyPrefix+name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fault.Newf(fault.KindNotFound, "prompt not registered: %s", name)
	}
	var desc PromptDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "unmarshal prompt descriptor")
	}
	for _, arg := range desc.Arguments {
		if arg.Required {
			if _, ok := args[arg.Name]; !ok {
				return nil, fault.Newf(fault.KindInvalidParams,
					"prompt %s requires argument %s", name, arg.Name)
			}
		}
	}

	r.mu.RLock()
	getter, ok := r.getters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "prompt not registered: %s", name)
	}
	result, err := getter(ctx, args)
	if err != nil {
		if _, ok := err.(*fault.Error); ok {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindInternal, err, "render prompt "+name)
	}
	return result, nil
}

// Count returns how many tools are registered.
func (r *Registry) Count(ctx context.Context) (int, error) {
	names, err := r.backbone.Cache().SetMembers(ctx, toolNamesKey)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}
