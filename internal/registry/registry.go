// Package registry is a process-wide catalog of known task kinds, their
// parameter schemas, and a default-params builder for each.
package registry

import (
	"fmt"
	"sync"

	"github.com/synthos/orchestrator/internal/execctx"
)

// FieldSpec describes one parameter's expected shape.
type FieldSpec struct {
	Type        string // "string", "number", "boolean", "object", "array"
	Description string
}

// Schema is a minimal parameter schema: which keys are required and what
// type each recognized key should hold. It intentionally does not chase
// full JSON-Schema semantics — the spec only requires "validate params
// against the schema", not a general validator.
type Schema struct {
	Required   []string
	Properties map[string]FieldSpec
}

// DefaultParamsFunc derives default parameter values for a task given the
// run's context (for upstream outputs) and opaque per-deployment config.
type DefaultParamsFunc func(ctx *execctx.Context, config map[string]any) map[string]any

// TaskMetadata is one catalog entry.
type TaskMetadata struct {
	InternalName         string
	DisplayName          string
	Description          string
	ParamsSchema         Schema
	GenerateDefaultParams DefaultParamsFunc
}

// ErrAlreadyRegistered is returned when a task's internalName collides
// with an existing entry.
var ErrAlreadyRegistered = fmt.Errorf("task already registered")

// ErrUnknownTaskType is returned by Get/ValidateParams for an unregistered
// internalName.
var ErrUnknownTaskType = fmt.Errorf("unknown task type")

// ErrSchemaValidation wraps a parameter validation failure with the
// offending field name.
type ErrSchemaValidation struct {
	InternalName string
	Field        string
	Reason       string
}

func (e *ErrSchemaValidation) Error() string {
	return fmt.Sprintf("task %q: field %q: %s", e.InternalName, e.Field, e.Reason)
}

// Registry is a process-wide catalog. The zero value is not usable; use
// New. Registration is at-most-once per internalName: there is no
// coordinating store for cross-process exclusion, so a multi-process
// deployment needs its own convention for keeping registrations in sync.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskMetadata
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tasks: make(map[string]TaskMetadata)}
}

// Register adds one task to the catalog. It fails if internalName is
// already registered.
func (r *Registry) Register(meta TaskMetadata) error {
	if meta.InternalName == "" {
		return fmt.Errorf("registry: internalName must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[meta.InternalName]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, meta.InternalName)
	}
	r.tasks[meta.InternalName] = meta
	return nil
}

// MustRegister is Register but panics on error; intended for package-level
// init of built-in task kinds in a fail-fast composition root.
func (r *Registry) MustRegister(meta TaskMetadata) {
	if err := r.Register(meta); err != nil {
		panic(err)
	}
}

// Get returns a single catalog entry by internalName.
func (r *Registry) Get(internalName string) (TaskMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tasks[internalName]
	if !ok {
		return TaskMetadata{}, fmt.Errorf("%w: %s", ErrUnknownTaskType, internalName)
	}
	return meta, nil
}

// List returns every registered task, in no particular order.
func (r *Registry) List() []TaskMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TaskMetadata, 0, len(r.tasks))
	for _, m := range r.tasks {
		out = append(out, m)
	}
	return out
}

// ValidateParams checks a parameter mapping against a registered task's
// schema: every required key must be present, and any key with a
// recognized type in Properties must match that type.
func (r *Registry) ValidateParams(internalName string, params map[string]any) error {
	meta, err := r.Get(internalName)
	if err != nil {
		return err
	}
	for _, req := range meta.ParamsSchema.Required {
		if _, ok := params[req]; !ok {
			return &ErrSchemaValidation{InternalName: internalName, Field: req, Reason: "required field missing"}
		}
	}
	for key, spec := range meta.ParamsSchema.Properties {
		v, ok := params[key]
		if !ok || spec.Type == "" {
			continue
		}
		if !matchesType(v, spec.Type) {
			return &ErrSchemaValidation{InternalName: internalName, Field: key, Reason: fmt.Sprintf("expected type %s", spec.Type)}
		}
	}
	return nil
}

func matchesType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
