package lua

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Result holds the numeric fields a kernel returned and anything it printed.
type Result struct {
	Values map[string]float64
	Output string
}

type Runtime struct{}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// Execute runs a kernel with its parameters bound to the PARAMS table. The
// chunk must return a table of numbers keyed by field name.
func (r *Runtime) Execute(ctx context.Context, code string, params map[string]float64, timeout time.Duration) (*Result, error) {
	L := lua.NewState()
	defer L.Close()

	var output strings.Builder
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		for i := 1; i <= n; i++ {
			if i > 1 {
				output.WriteString("\t")
			}
			output.WriteString(L.ToStringMeta(L.Get(i)).String())
		}
		output.WriteString("\n")
		return 0
	}))

	paramTable := L.NewTable()
	for k, v := range params {
		L.SetField(paramTable, k, lua.LNumber(v))
	}
	L.SetGlobal("PARAMS", paramTable)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	L.SetContext(ctx)

	if err := L.DoString(code); err != nil {
		return nil, err
	}

	values, err := tableToValues(L.Get(-1))
	if err != nil {
		return nil, err
	}

	return &Result{Values: values, Output: output.String()}, nil
}

func tableToValues(v lua.LValue) (map[string]float64, error) {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("kernel must return a table, got %s", v.Type())
	}

	values := make(map[string]float64)
	var bad error
	t.ForEach(func(k, v lua.LValue) {
		if bad != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			bad = fmt.Errorf("kernel result key %s is not a string", k.String())
			return
		}
		n, ok := v.(lua.LNumber)
		if !ok {
			bad = fmt.Errorf("kernel result %q is %s, not a number", string(key), v.Type())
			return
		}
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			bad = fmt.Errorf("kernel result %q is not finite", string(key))
			return
		}
		values[string(key)] = f
	})
	if bad != nil {
		return nil, bad
	}
	return values, nil
}
