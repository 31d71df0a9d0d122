// Package registry implements the Tool Registry & Dispatch pipeline: it
// maps tool names to a backing runtime (WASM or native) and a declared
// risk-tier floor, then runs every call through canonicalization, risk
// classification, rate limiting, and tier-appropriate confirmation
// before invoking the runtime.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rove-run/rove/internal/bus"
	"github.com/rove-run/rove/internal/ratelimit"
	"github.com/rove-run/rove/internal/safety"
	"github.com/rove-run/rove/internal/sandbox/native"
	"github.com/rove-run/rove/internal/sandbox/wasm"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Backend names which runtime hosts a tool.
type Backend int

const (
	BackendWASM Backend = iota
	BackendNative
)

// Tool is a registry entry: the name clients dispatch by, the declared
// risk-tier floor a call never drops below, and which runtime and
// module/plugin name backs it.
type Tool struct {
	Name        string
	Description string
	Tier        safety.Tier
	Backend     Backend
	TargetName  string // wasm module name, or native tool name
	Schema      *jsonschema.Schema
	SchemaJSON  json.RawMessage // raw declared schema, passed through to provider tool-call schemas
}

// Registry holds the tool table and the security-pipeline components
// every dispatch runs through.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	wasmHost *wasm.Host
	native   *native.Runtime
	risk     *safety.RiskAssessor
	limiter  *ratelimit.Limiter
	sanitize *safety.Sanitizer
	bus      *bus.Bus

	t1ConfirmDelay time.Duration
}

// Config wires the Registry's dependencies.
type Config struct {
	WASMHost       *wasm.Host
	Native         *native.Runtime
	RiskAssessor   *safety.RiskAssessor
	Limiter        *ratelimit.Limiter
	Sanitizer      *safety.Sanitizer
	Bus            *bus.Bus
	T1ConfirmDelay time.Duration // default 10s
}

// New creates a Registry.
func New(cfg Config) *Registry {
	if cfg.RiskAssessor == nil {
		cfg.RiskAssessor = safety.NewRiskAssessor()
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = safety.NewSanitizer()
	}
	if cfg.T1ConfirmDelay <= 0 {
		cfg.T1ConfirmDelay = 10 * time.Second
	}
	return &Registry{
		tools:          map[string]*Tool{},
		wasmHost:       cfg.WASMHost,
		native:         cfg.Native,
		risk:           cfg.RiskAssessor,
		limiter:        cfg.Limiter,
		sanitize:       cfg.Sanitizer,
		bus:            cfg.Bus,
		t1ConfirmDelay: cfg.T1ConfirmDelay,
	}
}

// Register adds or replaces a tool entry. schemaJSON may be nil to skip
// argument validation for tools with no declared schema.
func (r *Registry) Register(name, description string, tier safety.Tier, backend Backend, targetName string, schemaJSON json.RawMessage) error {
	if name == "" {
		return fmt.Errorf("registry: tool name must be non-empty")
	}
	var schema *jsonschema.Schema
	if len(schemaJSON) > 0 {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
		if err != nil {
			return fmt.Errorf("registry: unmarshal schema for %s: %w", name, err)
		}
		c := jsonschema.NewCompiler()
		resourceName := name + ".schema.json"
		if err := c.AddResource(resourceName, doc); err != nil {
			return fmt.Errorf("registry: add schema resource for %s: %w", name, err)
		}
		schema, err = c.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("registry: compile schema for %s: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = &Tool{
		Name:        name,
		Description: description,
		Tier:        tier,
		Backend:     backend,
		TargetName:  targetName,
		Schema:      schema,
		SchemaJSON:  schemaJSON,
	}
	return nil
}

// Catalog returns every registered tool, sorted by name — the shape an
// agent loop converts into provider-facing tool schemas.
func (r *Registry) Catalog() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns a registered tool by name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanonicalizeArgs re-marshals arbitrary JSON with object keys sorted at
// every nesting level, so two argument sets differing only in key order
// hash and compare identically downstream (rate-limit dangerous-flag
// scanning, audit logging).
func CanonicalizeArgs(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize args: %w", err)
	}
	out, err := json.Marshal(sortedValue(v))
	if err != nil {
		return nil, fmt.Errorf("canonicalize args: %w", err)
	}
	return out, nil
}

// sortedValue recursively rebuilds maps as ordered key-value pairs so
// json.Marshal emits keys in sorted order (Go's encoding/json already
// sorts map[string]interface{} keys on marshal, but this makes the
// invariant explicit rather than relying on an incidental stdlib detail
// that downstream code should not have to know about).
func sortedValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = sortedValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = sortedValue(inner)
		}
		return out
	default:
		return val
	}
}
