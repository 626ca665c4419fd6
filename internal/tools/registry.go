// Package tools implements the Tool Registry and Executor: the single
// source of truth for what tools the agent can call, argument
// validation, and a bounded worker pool for running them.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/llm"
)

// Handler is a tool's implementation. Handlers are built already bound
// to whatever runtime state they need (a workspace path, an HTTP
// client, an API key) at construction time — the registry holds no
// process-wide state of its own.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// ToolContext carries call-scoped metadata threaded through Execute for
// logging and episode recording; it is not passed to the handler
// itself, since handlers already close over the dependencies they need.
type ToolContext struct {
	SessionID string
	TaskID    string
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Name     string
	Output   string
	Success  bool
	Error    string
	Duration time.Duration
}

type registration struct {
	spec    llm.ToolSpec
	handler Handler
	source  string
	enabled bool
}

// Registry is the single source of truth for available tools: it
// validates arguments and dispatches execution, guarded by a single
// mutex per spec.md's "lock-guarded lookup" requirement.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registration)}
}

// Register inserts a new tool. Returns AlreadyExists if the name is
// already taken.
func (r *Registry) Register(spec llm.ToolSpec, handler Handler, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return errkind.New(errkind.AlreadyExists).WithContext(fmt.Sprintf("tool %q already registered", spec.Name))
	}
	r.tools[spec.Name] = &registration{spec: spec, handler: handler, source: source, enabled: true}
	return nil
}

// Unregister removes a tool entirely.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return errkind.New(errkind.ToolNotFound).WithContext(name)
	}
	delete(r.tools, name)
	return nil
}

// Enable marks a registered tool active.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable marks a registered tool inactive without removing it.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.tools[name]
	if !ok {
		return errkind.New(errkind.ToolNotFound).WithContext(name)
	}
	reg.enabled = enabled
	return nil
}

// GetSpec returns a registered tool's spec.
func (r *Registry) GetSpec(name string) (llm.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return llm.ToolSpec{}, false
	}
	return reg.spec, true
}

// AllSpecs returns every registered tool's spec, regardless of enabled
// state, sorted by name for deterministic output.
func (r *Registry) AllSpecs() []llm.ToolSpec {
	return r.specs(false)
}

// EnabledSpecs returns only enabled tools' specs, sorted by name.
func (r *Registry) EnabledSpecs() []llm.ToolSpec {
	return r.specs(true)
}

func (r *Registry) specs(enabledOnly bool) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]llm.ToolSpec, 0, len(r.tools))
	for _, reg := range r.tools {
		if enabledOnly && !reg.enabled {
			continue
		}
		out = append(out, reg.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ToProviderSchema returns the enabled tool specs ready to hand to a
// Gateway Request's Tools field. The kind parameter is reserved for a
// future provider whose wire format a llm.Provider can't derive from
// llm.ToolSpec alone; today every Provider converts directly from
// ToolSpec (see convertToolsToAnthropic/convertToolsToGemini), so this
// is a pass-through.
func (r *Registry) ToProviderSchema(kind string) []llm.ToolSpec {
	_ = kind
	return r.EnabledSpecs()
}

// Execute validates arguments against the tool's spec and invokes its
// handler, measuring wall time. Any error the handler returns or
// panics with is converted to a ToolExecutionFailed result rather than
// unwinding past the registry.
func (r *Registry) Execute(ctx context.Context, name string, arguments map[string]any, _ ToolContext) (ToolResult, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return ToolResult{}, errkind.New(errkind.ToolNotFound).WithContext(name)
	}
	if !reg.enabled {
		return ToolResult{}, errkind.New(errkind.ToolDisabled).WithContext(name)
	}

	if err := validateArguments(reg.spec, arguments); err != nil {
		return ToolResult{}, err
	}

	start := time.Now()
	output, err := r.invoke(ctx, reg.handler, arguments)
	duration := time.Since(start)

	if err != nil {
		return ToolResult{Name: name, Success: false, Error: err.Error(), Duration: duration}, nil
	}
	return ToolResult{Name: name, Output: output, Success: true, Duration: duration}, nil
}

// invoke calls the handler, recovering a panic into an error so it
// becomes a failed ToolResult rather than crashing the caller.
func (r *Registry) invoke(ctx context.Context, h Handler, args map[string]any) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errkind.New(errkind.ToolExecutionFailed).WithContext(fmt.Sprintf("handler panicked: %v", p))
		}
	}()
	out, err = h(ctx, args)
	if err != nil {
		err = errkind.Wrap(errkind.ToolExecutionFailed, err)
	}
	return out, err
}

// validateArguments checks arguments against spec's declared
// parameters: required parameters must be present, supplied values
// must match the declared JSON kind, and enum-constrained strings must
// be members. Unknown arguments are tolerated — validation is the only
// gate between model output and handler invocation, and the spec
// treats extras as a warning, not an error.
func validateArguments(spec llm.ToolSpec, args map[string]any) error {
	for _, p := range spec.Parameters {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				return errkind.New(errkind.ToolValidationFailed).WithContext(fmt.Sprintf("%s: missing required parameter %q", spec.Name, p.Name))
			}
			continue
		}
		if err := validateParamKind(p, v); err != nil {
			return errkind.New(errkind.ToolValidationFailed).WithContext(fmt.Sprintf("%s: %v", spec.Name, err))
		}
		if len(p.Enum) > 0 {
			s, ok := v.(string)
			if !ok || !containsString(p.Enum, s) {
				return errkind.New(errkind.ToolValidationFailed).WithContext(fmt.Sprintf("%s: parameter %q must be one of %v", spec.Name, p.Name, p.Enum))
			}
		}
	}
	return nil
}

func validateParamKind(p llm.Parameter, v any) error {
	switch p.Type {
	case llm.ParamString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
	case llm.ParamInteger, llm.ParamNumber:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
	case llm.ParamBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	case llm.ParamArray:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("parameter %q must be an array", p.Name)
		}
	case llm.ParamObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object", p.Name)
		}
	}
	return nil
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Search scores every tool against query by token overlap: the tool
// name is weighted 10, each keyword 5, and words in the description 2.
// Results are ordered by descending score; zero-score tools are
// omitted.
func (r *Registry) Search(query string) []llm.ToolSpec {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		spec  llm.ToolSpec
		score int
	}

	r.mu.RLock()
	candidates := make([]scored, 0, len(r.tools))
	for _, reg := range r.tools {
		candidates = append(candidates, scored{spec: reg.spec, score: searchScore(reg.spec, queryTokens)})
	}
	r.mu.RUnlock()

	var filtered []scored
	for _, c := range candidates {
		if c.score > 0 {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].score > filtered[j].score })

	out := make([]llm.ToolSpec, len(filtered))
	for i, c := range filtered {
		out[i] = c.spec
	}
	return out
}

func searchScore(spec llm.ToolSpec, queryTokens map[string]struct{}) int {
	score := 0
	for _, t := range tokenizeSlice(spec.Name) {
		if _, ok := queryTokens[t]; ok {
			score += 10
		}
	}
	for _, kw := range spec.Keywords {
		for _, t := range tokenizeSlice(kw) {
			if _, ok := queryTokens[t]; ok {
				score += 5
			}
		}
	}
	for _, t := range tokenizeSlice(spec.Description) {
		if _, ok := queryTokens[t]; ok {
			score += 2
		}
	}
	return score
}

func tokenize(s string) map[string]struct{} {
	toks := tokenizeSlice(s)
	out := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		out[t] = struct{}{}
	}
	return out
}

func tokenizeSlice(s string) []string {
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	return fields
}
