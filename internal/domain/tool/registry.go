// Package tool declares the server's tool surface and dispatches incoming
// invocations. The registry is built once at startup and immutable after:
// the descriptor set is the whole contract offered to the calling agent.
//
// Every failure inside a handler — validation, store, retrieval, even a
// panic — is converted here into a single text error result so the transport
// always gets a well-formed response and the session survives.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/matiasleandrokruk/cpsdata/internal/domain/schooldb"
)

var (
	ErrUnknownTool           = errors.New("unknown tool")
	ErrMissingArgument       = errors.New("missing required argument")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// Handler executes one tool invocation and returns the response text.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Descriptor is the static declaration of one tool: name, description, and a
// JSON-schema-shaped input schema. Defined once at startup, immutable for
// the process lifetime.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Result is the outcome of one dispatch: response text, flagged as error or
// data. Success and failure share the same shape; only the text differs.
type Result struct {
	Text    string
	IsError bool
}

type registeredTool struct {
	descriptor Descriptor
	handler    Handler
}

// Registry routes tool invocations to their handlers.
type Registry struct {
	logger *log.Logger
	order  []string
	tools  map[string]registeredTool
}

// NewRegistry creates an empty Registry. A nil logger disables dispatch logging.
func NewRegistry(logger *log.Logger) *Registry {
	return &Registry{
		logger: logger,
		tools:  make(map[string]registeredTool),
	}
}

// Register adds a tool. Names are unique; registration order is the order
// List reports.
func (r *Registry) Register(d Descriptor, h Handler) error {
	name := strings.TrimSpace(d.Name)
	if name == "" || h == nil {
		return fmt.Errorf("tool: descriptor needs a name and a handler")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}
	d.Name = name
	r.tools[name] = registeredTool{descriptor: d, handler: h}
	r.order = append(r.order, name)
	return nil
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].descriptor)
	}
	return out
}

// Call dispatches one invocation. It never returns an error and never
// panics: all handler failures come back as an error-flagged Result.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = r.failure(name, fmt.Errorf("panic: %v", rec))
		}
	}()

	entry, ok := r.tools[name]
	if !ok {
		return r.failure(name, fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}
	if args == nil {
		args = map[string]any{}
	}

	text, err := entry.handler(ctx, args)
	if err != nil {
		return r.failure(name, err)
	}

	r.logf("tool %s: ok (%d bytes)", name, len(text))
	return Result{Text: text}
}

// failure renders an error as a text result. Store failures keep their own
// label so the caller can tell them from generic faults; the response shape
// is identical either way.
func (r *Registry) failure(name string, err error) Result {
	r.logf("tool %s: %v", name, err)
	if errors.Is(err, schooldb.ErrDatabase) {
		return Result{Text: err.Error(), IsError: true}
	}
	return Result{Text: fmt.Sprintf("Error: %v", err), IsError: true}
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}
