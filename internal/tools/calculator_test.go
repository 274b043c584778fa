// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCalculator(t *testing.T, input string) (CalculatorOutput, error) {
	t.Helper()
	calc := NewCalculator(DefaultPrecision, ModeEvaluate)
	args, err := calc.Validate(json.RawMessage(input))
	if err != nil {
		return CalculatorOutput{}, err
	}
	out, err := calc.Execute(context.Background(), args)
	if err != nil {
		return CalculatorOutput{}, err
	}
	return out.(CalculatorOutput), nil
}

func TestCalculator_Evaluate(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"expression":"2 + 2"}`, "4"},
		{`{"expression":"2^10"}`, "1024"},
		{`{"expression":"(1500 * 0.15) + 200"}`, "425"},
		{`{"expression":"7 / 2"}`, "3.5"},
		{`{"expression":"sqrt(16) + abs(-3)"}`, "7"},
		{`{"expression":"1/3"}`, "0.3333333333"},
		{`{"expression":"1/3","precision":2}`, "0.33"},
		{`{"expression":"1/3","precision":2.0}`, "0.33"},
		{`{"expression":"pi","precision":4}`, "3.1416"},
		{`{"expression":"log(e)"}`, "1"},
		{`{"expression":"0.1 + 0.2"}`, "0.3"},
		{`{"expression":"10 % 3"}`, "1"},
		{`{"expression":"99999999999 * 99999999999"}`, "9.9999999998e+21"},
		{`{"expression":"99999999999 * 99999999999 / 1"}`, "9.9999999998e+21"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, err := runCalculator(t, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Result)
			assert.Equal(t, "success", out.Status)
			assert.Equal(t, ModeEvaluate, out.Operation)
		})
	}
}

func TestCalculator_Solve(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"expression":"2*x + 3 = 11","mode":"solve"}`, "4"},
		{`{"expression":"x^2 - 4","mode":"solve"}`, "-2, 2"},
		{`{"expression":"x^2 = 0","mode":"solve"}`, "0"},
		{`{"expression":"y^2 = 2","mode":"solve","precision":4}`, "-1.4142, 1.4142"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			out, err := runCalculator(t, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Result)
			assert.Equal(t, ModeSolve, out.Operation)
		})
	}
}

func TestCalculator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		contains  string
	}{
		{"missing expression", `{}`, false, "expression"},
		{"blank expression", `{"expression":"   "}`, false, "expression"},
		{"bad mode", `{"expression":"1","mode":"integrate"}`, false, "mode"},
		{"precision out of range", `{"expression":"1","precision":99}`, false, "precision"},
		{"wrong type", `{"expression":42}`, false, "expression"},
		{"no variables to solve", `{"expression":"2 + 2","mode":"solve"}`, true, "No variables found to solve"},
		{"two variables", `{"expression":"x + y","mode":"solve"}`, true, "single variable"},
		{"no real roots", `{"expression":"x^2 + 1","mode":"solve"}`, true, "no real solutions"},
		{"unknown name", `{"expression":"foo + 1"}`, true, "invalid expression"},
		{"division by zero", `{"expression":"1/0"}`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCalculator(t, tt.input)
			require.Error(t, err)
			_, isValidation := err.(*ValidationError)
			assert.Equal(t, !tt.wantValid, isValidation)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestEquationToZero(t *testing.T) {
	got, err := equationToZero("x + 1 = 3")
	require.NoError(t, err)
	assert.Equal(t, "(x + 1) - (3)", got)

	got, err = equationToZero("x >= 1")
	require.NoError(t, err)
	assert.Equal(t, "x >= 1", got)

	_, err = equationToZero("x = 1 = 2")
	assert.Error(t, err)

	_, err = equationToZero("= 2")
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "42", formatNumber(42, 10))
	assert.Equal(t, "-3", formatNumber(-3, 2))
	assert.Equal(t, "0", formatNumber(1e-12, 4))
	assert.Equal(t, "2.5", formatNumber(2.5, 10))
	assert.Equal(t, "3", formatNumber(2.9999999999999, 6))
}

func TestCalculator_Definition(t *testing.T) {
	def := NewCalculator(6, ModeSolve).Definition()
	assert.Equal(t, NameCalculator, def.Name)

	schema := def.Schema.JSONSchema()
	assert.Equal(t, []string{"expression"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, 6, props["precision"].(map[string]any)["default"])
	assert.Equal(t, ModeSolve, props["mode"].(map[string]any)["default"])
}
