package wasm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Result holds the numeric fields a kernel returned and anything it wrote
// to stdout.
type Result struct {
	Values map[string]float64
	Output string
}

// Runtime runs wasm kernels. Modules exchange JSON with the host through the
// env.get_input_len, env.get_input and env.set_output imports and export a
// "run" (or "_start") entry point.
type Runtime struct {
	cache wazero.CompilationCache
}

func NewRuntime() *Runtime {
	return &Runtime{cache: wazero.NewCompilationCache()}
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.cache.Close(ctx)
}

// Decode turns a catalog kernel's code into module bytes.
func Decode(code string) ([]byte, error) {
	module, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("wasm kernel is not base64: %w", err)
	}
	return module, nil
}

// Execute runs a module with params as the JSON input. The module must set a
// JSON object of numbers as its output.
func (r *Runtime) Execute(ctx context.Context, module []byte, params map[string]float64, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCompilationCache(r.cache).
		WithCloseOnContextDone(true))
	defer rt.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	if params == nil {
		params = map[string]float64{}
	}
	inputJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	var output []byte
	if err := instantiateHost(ctx, rt, inputJSON, &output); err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	var stdout bytes.Buffer
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	defer mod.Close(ctx)

	run := mod.ExportedFunction("run")
	if run == nil {
		run = mod.ExportedFunction("_start")
	}
	if run == nil {
		return nil, fmt.Errorf("no 'run' or '_start' function exported")
	}

	if _, err := run.Call(ctx); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}

	values, err := decodeOutput(output)
	if err != nil {
		return nil, err
	}
	return &Result{Values: values, Output: stdout.String()}, nil
}

// instantiateHost provides the "env" module kernels import. get_input copies
// at most size bytes of the input; set_output keeps the last value written.
func instantiateHost(ctx context.Context, rt wazero.Runtime, input []byte, output *[]byte) error {
	getInput := func(_ context.Context, m api.Module, ptr, size uint32) {
		m.Memory().Write(ptr, input[:min(int(size), len(input))])
	}
	setOutput := func(_ context.Context, m api.Module, ptr, size uint32) {
		if data, ok := m.Memory().Read(ptr, size); ok {
			*output = bytes.Clone(data)
		}
	}

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(func() uint32 { return uint32(len(input)) }).Export("get_input_len").
		NewFunctionBuilder().WithFunc(getInput).Export("get_input").
		NewFunctionBuilder().WithFunc(setOutput).Export("set_output").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("host module: %w", err)
	}
	return nil
}

func decodeOutput(data []byte) (map[string]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("kernel set no output")
	}
	var values map[string]float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("kernel output is not an object of numbers: %w", err)
	}
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("kernel result %q is not finite", k)
		}
	}
	return values, nil
}
