package js

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// Result holds the numeric fields a kernel returned and its console output.
type Result struct {
	Values map[string]float64
	Output string
}

type Runtime struct{}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// Execute runs a kernel with its parameters bound to PARAMS. The script's
// completion value must be an object of numbers keyed by field name.
func (r *Runtime) Execute(ctx context.Context, code string, params map[string]float64, timeout time.Duration) (*Result, error) {
	vm := goja.New()

	var output strings.Builder
	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.String()
		}
		output.WriteString(strings.Join(args, " "))
		output.WriteString("\n")
		return goja.Undefined()
	})
	vm.Set("console", console)

	in := make(map[string]any, len(params))
	for k, v := range params {
		in[k] = v
	}
	vm.Set("PARAMS", in)

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("timeout")
		case <-ctx.Done():
			vm.Interrupt("cancelled")
		case <-done:
		}
	}()
	defer close(done)

	val, err := vm.RunString(code)
	if err != nil {
		return nil, err
	}

	values, err := exportValues(val)
	if err != nil {
		return nil, err
	}

	return &Result{Values: values, Output: output.String()}, nil
}

func exportValues(v goja.Value) (map[string]float64, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("kernel must evaluate to an object")
	}
	m, ok := v.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("kernel must evaluate to an object, got %T", v.Export())
	}

	values := make(map[string]float64, len(m))
	for k, raw := range m {
		var f float64
		switch n := raw.(type) {
		case int64:
			f = float64(n)
		case float64:
			f = n
		default:
			return nil, fmt.Errorf("kernel result %q is %T, not a number", k, raw)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("kernel result %q is not finite", k)
		}
		values[k] = f
	}
	return values, nil
}
