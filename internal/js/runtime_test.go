package js

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntime_ReturnsFields(t *testing.T) {
	rt := NewRuntime()

	code := `({ folding_energy: -2 * PARAMS.residues, radius_of_gyration: 12 })`

	result, err := rt.Execute(context.Background(), code, map[string]float64{"residues": 50}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"folding_energy": -100, "radius_of_gyration": 12}, result.Values)
}

func TestRuntime_ArrowFunction(t *testing.T) {
	rt := NewRuntime()

	code := `
		const mean = (xs) => xs.reduce((a, b) => a + b, 0) / xs.length;
		({ activation_mean: mean([PARAMS.a, PARAMS.b]) })
	`

	result, err := rt.Execute(context.Background(), code, map[string]float64{"a": 0.25, "b": 0.75}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0.5, result.Values["activation_mean"])
}

func TestRuntime_ConsoleLog(t *testing.T) {
	rt := NewRuntime()

	result, err := rt.Execute(context.Background(), `console.log("hello", "world"); ({x: 1})`, nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Output)
}

func TestRuntime_RejectsBadResults(t *testing.T) {
	rt := NewRuntime()

	tests := []struct {
		name string
		code string
	}{
		{"scalar", "42"},
		{"undefined", "undefined"},
		{"string field", `({x: "high"})`},
		{"nan", "({x: NaN})"},
		{"infinite", "({x: 1/0})"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Execute(context.Background(), tt.code, nil, 5*time.Second)
			assert.Error(t, err)
		})
	}
}

func TestRuntime_SyntaxError(t *testing.T) {
	rt := NewRuntime()

	_, err := rt.Execute(context.Background(), "this is not valid js {{{", nil, 5*time.Second)
	assert.Error(t, err)
}

func TestRuntime_Timeout(t *testing.T) {
	rt := NewRuntime()

	_, err := rt.Execute(context.Background(), `while(true) {}`, nil, 100*time.Millisecond)
	assert.Error(t, err)
}
