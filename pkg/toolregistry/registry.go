package toolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxOutputBytes = 10 * 1024
)

// Config configures a Registry.
type Config struct {
	Logger         zerolog.Logger
	Timeout        time.Duration // per invocation
	MaxOutputBytes int           // outcome text is cut beyond this
}

type entry struct {
	def    Definition
	schema *gojsonschema.Schema
}

// Registry is the tool catalog.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	sealed  bool

	timeout   time.Duration
	maxOutput int
	logger    zerolog.Logger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	return &Registry{
		entries:   make(map[string]*entry),
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutputBytes,
		logger:    cfg.Logger.With().Str("component", "toolregistry").Logger(),
	}
}

// Register adds a tool. It fails once the registry is sealed.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	schema, err := compileSchema(def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, def.Spec.Name)
	}
	if _, exists := r.entries[def.Spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Spec.Name)
	}

	r.entries[def.Spec.Name] = &entry{def: def, schema: schema}
	r.order = append(r.order, def.Spec.Name)

	r.logger.Debug().Str("tool", def.Spec.Name).Msg("Tool registered")
	return nil
}

// Seal freezes the catalog for the rest of the process lifetime.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// List returns the specs in registration order.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.entries[name].def.Spec
		spec.Parameters = append([]Parameter(nil), spec.Parameters...)
		specs = append(specs, spec)
	}
	return specs
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Invoke runs the named tool. Unknown names and invalid arguments are
// reported without running anything; handler errors, panics and timeouts
// become ExecutionFailure outcomes.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) Outcome {
	ctx, span := tracing.StartSpan(ctx, "mcpgate.toolregistry", "tool.invoke", attribute.String("tool", name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", name).Logger()
	start := time.Now()

	outcome := r.invoke(ctx, name, args, logger)
	outcome.Duration = time.Since(start)

	if !outcome.Success {
		tracing.FailSpan(span, outcome.Err())
	}
	span.SetAttributes(
		attribute.Bool("tool.success", outcome.Success),
		attribute.String("tool.failure", string(outcome.Failure)),
	)

	observability.RecordToolExecution(name, outcome.Duration, outcome.Success, string(outcome.Failure))
	status := "success"
	if !outcome.Success {
		status = "failure"
	}
	observability.RecordToolAudit(ctx, name, tracing.GetSessionID(ctx), status, map[string]interface{}{
		"duration_ms": outcome.Duration.Milliseconds(),
		"failure":     string(outcome.Failure),
	})

	return outcome
}

func (r *Registry) invoke(ctx context.Context, name string, args map[string]interface{}, logger zerolog.Logger) Outcome {
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()

	if e == nil {
		logger.Warn().Msg("Tool not found")
		return failure(FailureUnknownTool, "tool not found: %s", name)
	}

	if err := validateArgs(e.schema, args); err != nil {
		logger.Warn().Err(err).Msg("Tool arguments rejected")
		return failure(FailureSchemaViolation, "invalid arguments for %s: %v", name, err)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		out, err := e.def.Handler(timeoutCtx, args)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			logger.Error().Err(res.err).Msg("Tool execution failed")
			return failure(FailureExecution, "%s", res.err.Error())
		}
		outcome := succeed(res.out)
		outcome.Text, outcome.Truncated = truncate(outcome.Text, r.maxOutput)
		if outcome.Truncated {
			logger.Warn().Int("limit", r.maxOutput).Msg("Tool output truncated")
		}
		logger.Debug().Msg("Tool execution completed")
		return outcome

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			logger.Warn().Err(ctx.Err()).Msg("Tool execution cancelled")
			return failure(FailureExecution, "tool execution cancelled: %v", ctx.Err())
		}
		logger.Error().Dur("timeout", r.timeout).Msg("Tool execution timeout")
		return failure(FailureExecution, "tool execution timeout after %v", r.timeout)
	}
}

func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... [output truncated]", true
}
