// Package serializer implements the Serializer contract: typed values map
// to bytes tagged with a content-type, round-tripping every type in the
// domain's data model, including task handler inputs/outputs whose runtime
// type may differ from the declared one.
package serializer

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/fairyhunter13/taskqueue/internal/domain"
)

// JSON is the default Serializer, content-type application/json, matching
// the on-wire message format in spec §6. Grounded on the teacher's
// encoding/json marshal/unmarshal idiom for task payloads
// (internal/adapter/queue/asynq/eval_json.go).
type JSON struct {
	registry *TypeRegistry
}

// NewJSON constructs a JSON serializer backed by registry. The registry is
// used only by DeserializeNamed; with a nil registry Deserialize still works
// from the `out` pointer's static type, but DeserializeNamed cannot resolve
// a type.
func NewJSON(registry *TypeRegistry) *JSON {
	return &JSON{registry: registry}
}

// ContentType implements domain.Serializer.
func (j *JSON) ContentType() string { return "application/json" }

// Serialize implements domain.Serializer.
func (j *JSON) Serialize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("op=serializer.serialize: %w: %v", domain.ErrSerializationError, err)
	}
	return b, nil
}

// Deserialize implements domain.Serializer by unmarshalling data into out
// with encoding/json. The registry is not consulted: when out is a *any,
// the value decodes to encoding/json's generic types (map[string]any and
// so on). Use DeserializeNamed to resolve a concrete type by name.
func (j *JSON) Deserialize(data []byte, out any) error {
	if out == nil {
		return fmt.Errorf("op=serializer.deserialize: %w: nil destination", domain.ErrSerializationError)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("op=serializer.deserialize: %w: %v", domain.ErrSerializationError, err)
	}
	return nil
}

// DeserializeNamed resolves typeName via the registry and unmarshals data
// into a freshly allocated value of that type, returning it as any. Used
// by the registry/executor when the declared input type is known only by
// name (the "reflective (re)serialization" path, spec §9).
func (j *JSON) DeserializeNamed(data []byte, typeName string) (any, error) {
	if j.registry == nil {
		return nil, fmt.Errorf("op=serializer.deserialize_named: %w: no type registry configured", domain.ErrSerializationError)
	}
	rt, ok := j.registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("op=serializer.deserialize_named: %w: unregistered type %q", domain.ErrSerializationError, typeName)
	}
	ptr := reflect.New(rt)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("op=serializer.deserialize_named: %w: %v", domain.ErrSerializationError, err)
	}
	return ptr.Elem().Interface(), nil
}

// TypeRegistry maps registered type names to reflect.Type, backing the
// reflective fallback path of the serializer contract (spec §9).
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry constructs an empty TypeRegistry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]reflect.Type)}
}

// Register records the reflect.Type of a zero value of T under name. Call
// once at startup per input/output type a task registry entry declares.
func Register[T any](r *TypeRegistry, name string) {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[name] = reflect.TypeOf(zero)
}

// Lookup returns the reflect.Type registered under name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}
