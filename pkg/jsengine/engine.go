// Package jsengine evaluates the small JavaScript expressions allowed in
// action recipes, such as window-relative offsets like "width - 70".
package jsengine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = time.Second

// Engine wraps a goja runtime
type Engine struct {
	runtime   *goja.Runtime
	variables map[string]interface{}
	timeout   time.Duration
	mu        sync.Mutex
}

// New creates a new JS engine instance
func New() *Engine {
	e := &Engine{
		runtime:   goja.New(),
		variables: make(map[string]interface{}),
		timeout:   DefaultTimeout,
	}
	return e
}

// SetTimeout changes the per-evaluation bound.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
}

// SetVariable sets a variable accessible in JS as a global
func (e *Engine) SetVariable(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.variables[name] = value
	e.runtime.Set(name, value)
}

// SetVariables sets multiple variables
func (e *Engine) SetVariables(vars map[string]interface{}) {
	for k, v := range vars {
		e.SetVariable(k, v)
	}
}

// Eval evaluates a JavaScript expression and returns the result
func (e *Engine) Eval(script string) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timeout > 0 {
		timer := time.AfterFunc(e.timeout, func() {
			e.runtime.Interrupt("evaluation timed out")
		})
		defer func() {
			timer.Stop()
			e.runtime.ClearInterrupt()
		}()
	}

	result, err := e.runtime.RunString(script)
	if err != nil {
		return nil, fmt.Errorf("JS eval error: %w", err)
	}
	return result.Export(), nil
}

// EvalInt evaluates an expression that must produce a finite number and
// rounds it to the nearest integer. Plain integer literals skip the runtime.
func (e *Engine) EvalInt(expr string) (int, error) {
	expr = strings.TrimSpace(expr)
	if n, err := strconv.Atoi(expr); err == nil {
		return n, nil
	}

	result, err := e.Eval(expr)
	if err != nil {
		return 0, err
	}

	var f float64
	switch v := result.(type) {
	case int64:
		return int(v), nil
	case float64:
		f = v
	default:
		return 0, fmt.Errorf("expression %q is %T, not a number", expr, result)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q is not finite", expr)
	}
	return int(math.Round(f)), nil
}
