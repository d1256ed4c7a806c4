// Package dispatch maps JSON-RPC methods to registered handlers. The
// registration table is built once at startup; dispatch resolves by exact
// method name, validates params against the registration's schema-derived
// decoder, and converts handler outcomes into JSON-RPC responses.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/mcpstream/streamcore/mcp"
)

// HandlerFunc executes a resolved method. Params arrive raw; typed
// registrations decode and validate before the user function runs.
type HandlerFunc func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error)

// InvalidParamsError marks a params validation failure. The dispatcher maps
// it to JSON-RPC -32602 without executing the handler body.
type InvalidParamsError struct {
	Err error
}

func (e *InvalidParamsError) Error() string { return "invalid params: " + e.Err.Error() }
func (e *InvalidParamsError) Unwrap() error { return e.Err }

// Registration binds a method name to its handler and parameter schema.
type Registration struct {
	name        string
	description string
	schema      *jsonschema.Schema
	handler     HandlerFunc
}

// Name returns the registered JSON-RPC method name.
func (r *Registration) Name() string { return r.name }

// Tool renders the registration as tools/list metadata.
func (r *Registration) Tool() mcp.Tool {
	return mcp.Tool{Name: r.name, Description: r.description, InputSchema: r.schema}
}

// NewMethod builds a typed registration. The parameter schema is reflected
// from T, and params are decoded strictly: unknown fields and type
// mismatches fail with -32602 before fn runs.
func NewMethod[T any](name, description string, fn func(ctx context.Context, rc *RequestContext, args T) (any, error)) Registration {
	reflector := &jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(new(T))
	schema.Version = ""

	handler := func(ctx context.Context, rc *RequestContext, params json.RawMessage) (any, error) {
		var args T
		if len(params) > 0 && !bytes.Equal(params, []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(params))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return nil, &InvalidParamsError{Err: err}
			}
		}
		return fn(ctx, rc, args)
	}
	return Registration{name: name, description: description, schema: schema, handler: handler}
}

// NewRawMethod builds a registration that receives params unvalidated. Used
// for methods whose params are absent or deliberately open-ended.
func NewRawMethod(name, description string, fn HandlerFunc) Registration {
	return Registration{name: name, description: description, handler: fn}
}

// Registry is the method registration table. Populate it before traffic is
// accepted; it is safe for concurrent reads and never mutated by dispatch.
type Registry struct {
	methods map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*Registration)}
}

// Register adds a registration. Duplicate method names are an error.
func (r *Registry) Register(reg Registration) error {
	if reg.name == "" {
		return fmt.Errorf("registration requires a method name")
	}
	if reg.handler == nil {
		return fmt.Errorf("registration %q requires a handler", reg.name)
	}
	if _, exists := r.methods[reg.name]; exists {
		return fmt.Errorf("method %q already registered", reg.name)
	}
	r.methods[reg.name] = &reg
	return nil
}

// MustRegister is Register for startup wiring, panicking on error.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Resolve looks up a method by exact name.
func (r *Registry) Resolve(method string) (*Registration, bool) {
	reg, ok := r.methods[method]
	return reg, ok
}

// Tools lists all registrations as tools/list metadata, sorted by name.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.methods))
	for _, reg := range r.methods {
		out = append(out, reg.Tool())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
