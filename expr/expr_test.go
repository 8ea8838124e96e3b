package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() Env {
	return Env{
		Step: func(id string) (any, bool) {
			if id != "generate" {
				return nil, false
			}
			return map[string]any{
				"status": "COMPLETED",
				"output": map[string]any{
					"score": 0.9,
					"tags":  []any{"cat", "outdoor"},
					"urls":  []any{"a.png", "b.png"},
				},
				"error":      "",
				"durationMs": int64(1200),
			}, true
		},
		Shared: func(key string) (any, bool) {
			values := map[string]any{
				"mode":  "fast",
				"count": 3,
			}
			v, ok := values[key]
			return v, ok
		},
	}
}

func TestEval_Literals(t *testing.T) {
	e := New()
	env := Env{}

	tests := []struct {
		input string
		want  any
	}{
		{"true", true},
		{"false", false},
		{"42", float64(42)},
		{"3.5", float64(3.5)},
		{"'hello'", "hello"},
		{`"world"`, "world"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := e.Eval(tt.input, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalBool_Operators(t *testing.T) {
	e := New()
	env := testEnv()

	tests := []struct {
		input string
		want  bool
	}{
		{"true && true", true},
		{"true && false", false},
		{"false || true", true},
		{"!false", true},
		{"!(true && false)", true},
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"'a' < 'b'", true},
		{"1 == 1", true},
		{"1 != 2", true},
		{"'fast' == shared('mode')", true},
		{"shared('count') >= 3", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := e.EvalBool(tt.input, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_StepAccess(t *testing.T) {
	e := New()
	env := testEnv()

	got, err := e.EvalBool("step('generate').status == 'COMPLETED'", env)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool("step('generate').output.score > 0.5", env)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool("step('generate').output.urls[1] == 'b.png'", env)
	require.NoError(t, err)
	assert.True(t, got)

	// Missing steps and fields yield nil, not errors
	got, err = e.EvalBool("isDefined(step('missing'))", env)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEval_Predicates(t *testing.T) {
	e := New()
	env := testEnv()

	tests := []struct {
		input string
		want  bool
	}{
		{"equals(shared('mode'), 'fast')", true},
		{"notEquals(shared('mode'), 'slow')", true},
		{"greaterThan(shared('count'), 2)", true},
		{"lessThan(shared('count'), 2)", false},
		{"contains(step('generate').output.tags, 'cat')", true},
		{"contains('hello world', 'world')", true},
		{"isEmpty(step('generate').error)", true},
		{"isDefined(shared('mode'))", true},
		{"isDefined(shared('missing'))", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := e.EvalBool(tt.input, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_BareIdentifiers(t *testing.T) {
	e := New()
	env := testEnv()

	// A defined shared key resolves to its value
	got, err := e.EvalBool("mode == 'fast'", env)
	require.NoError(t, err)
	assert.True(t, got)

	// An unknown identifier falls back to its literal name, which keeps
	// template-substituted expressions like equals(fast, 'fast') working
	got, err = e.EvalBool("equals(banana, 'banana')", env)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_LooseNumericEquality(t *testing.T) {
	e := New()

	got, err := e.EvalBool("'2' == 2", Env{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_CustomFunction(t *testing.T) {
	e := New()
	e.Register("double", func(args []any) (any, error) {
		n, _ := toNumber(args[0])
		return n * 2, nil
	})

	got, err := e.Eval("double(21)", Env{})
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)
}

func TestEval_Errors(t *testing.T) {
	e := New()
	env := Env{}

	cases := []string{
		"",
		"1 &&",
		"unknownFn(1)",
		"'unterminated",
		"1 && 2",
		"equals(1)",
		"(1 == 1",
	}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			_, err := e.Eval(input, env)
			assert.Error(t, err)
		})
	}
}

func TestEvalBool_RejectsNonBoolean(t *testing.T) {
	e := New()

	_, err := e.EvalBool("42", Env{})
	assert.Error(t, err)
}

func TestEval_ShortCircuit(t *testing.T) {
	e := New()
	env := testEnv()

	tests := []struct {
		input string
		want  bool
	}{
		// The right side would error if evaluated; the left side decides
		{"isDefined(shared('missing')) && shared('missing') > 1", false},
		{"true || shared('missing') > 1", true},
		{"false && shared('missing') > 1", false},
		{"shared('count') >= 3 || step('nope').output.score > 0.5", true},
		// Guarded comparison evaluates normally when the guard passes
		{"isDefined(shared('count')) && shared('count') > 1", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := e.EvalBool(tt.input, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_ShortCircuitStillChecksSyntax(t *testing.T) {
	e := New()

	// A skipped operand is parsed, not ignored
	_, err := e.Eval("true || (1 ==", testEnv())
	assert.Error(t, err)
}

func TestEval_UnguardedComparisonOnMissingValueErrors(t *testing.T) {
	e := New()

	_, err := e.EvalBool("true && shared('missing') > 1", testEnv())
	assert.Error(t, err)
}
