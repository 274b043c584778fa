// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats/scalar"
)

// =============================================================================
// CALCULATOR INPUT/OUTPUT
// =============================================================================

const (
	ModeEvaluate = "evaluate"
	ModeSolve    = "solve"

	// DefaultPrecision is the number of decimal places kept in results.
	DefaultPrecision = 10
	maxPrecision     = 15
	maxExpressionLen = 1000
)

// CalculatorInput is the validated calculator input.
type CalculatorInput struct {
	Expression string `json:"expression" validate:"required,max=1000"`
	Mode       string `json:"mode" validate:"oneof=evaluate solve"`
	Precision  Int    `json:"precision" validate:"gte=0,lte=15"`
}

// CalculatorOutput is returned on success.
type CalculatorOutput struct {
	Status     string `json:"status"`
	Operation  string `json:"operation"`
	Expression string `json:"expression"`
	Result     string `json:"result"`
}

// =============================================================================
// CALCULATOR TOOL
// =============================================================================

// Calculator evaluates arithmetic expressions and solves single-variable
// equations numerically.
type Calculator struct {
	defaultPrecision int
	defaultMode      string
}

// NewCalculator creates the calculator tool.
func NewCalculator(defaultPrecision int, defaultMode string) *Calculator {
	if defaultPrecision < 0 || defaultPrecision > maxPrecision {
		defaultPrecision = DefaultPrecision
	}
	if defaultMode != ModeSolve {
		defaultMode = ModeEvaluate
	}
	return &Calculator{defaultPrecision: defaultPrecision, defaultMode: defaultMode}
}

// Definition implements Tool.
func (c *Calculator) Definition() Definition {
	return Definition{
		Name: NameCalculator,
		Description: "Evaluate a mathematical expression or solve an equation for one variable. " +
			"Supports + - * / % ^, parentheses, pi, e, sqrt, sin, cos, tan, asin, acos, atan, " +
			"log (natural), log10, log2, exp, abs, floor, ceil, round. " +
			"In solve mode give an equation such as 'x^2 - 4 = 0' or an expression equal to zero.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "expression", Type: "string", Required: true,
				Description: "The expression or equation, e.g. '(1500 * 0.15) + 200' or '2*x + 3 = 11'"},
			{Name: "mode", Type: "string", Default: c.defaultMode, Enum: []string{ModeEvaluate, ModeSolve},
				Description: "'evaluate' computes a value, 'solve' finds real roots"},
			{Name: "precision", Type: "integer", Default: c.defaultPrecision, Minimum: bound(0), Maximum: bound(maxPrecision),
				Description: "Decimal places to keep in the result"},
		}},
	}
}

// Validate implements Tool.
func (c *Calculator) Validate(raw json.RawMessage) (any, error) {
	in := CalculatorInput{Mode: c.defaultMode, Precision: Int(c.defaultPrecision)}
	if err := decodeInput(NameCalculator, raw, &in); err != nil {
		return nil, err
	}
	in.Expression = strings.TrimSpace(in.Expression)
	if in.Expression == "" {
		return nil, &ValidationError{Tool: NameCalculator, Field: "expression", Message: "missing required argument"}
	}
	return in, nil
}

// Execute implements Tool.
func (c *Calculator) Execute(_ context.Context, args any) (any, error) {
	in, ok := args.(CalculatorInput)
	if !ok {
		return nil, fmt.Errorf("calculator: unexpected input type %T", args)
	}

	var (
		result string
		err    error
	)
	switch in.Mode {
	case ModeSolve:
		result, err = solve(in.Expression, int(in.Precision))
	default:
		result, err = evaluate(in.Expression, int(in.Precision))
	}
	if err != nil {
		return nil, err
	}

	return CalculatorOutput{
		Status:     "success",
		Operation:  in.Mode,
		Expression: in.Expression,
		Result:     result,
	}, nil
}

// =============================================================================
// EXPRESSION ENGINE
// =============================================================================

var mathFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"log":   math.Log,
	"ln":    math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
}

var mathConsts = map[string]float64{
	"pi": math.Pi,
	"PI": math.Pi,
	"e":  math.E,
	"E":  math.E,
}

// Names resolved by expr itself.
var builtinNames = map[string]bool{
	"abs": true, "ceil": true, "floor": true, "round": true, "max": true, "min": true,
}

var (
	errNoVariables    = errors.New("No variables found to solve")
	errManyVariables  = errors.New("solve mode supports a single variable")
	errNoSolution     = errors.New("no real solutions found")
	errNotFinite      = errors.New("result is not a finite number")
	errNotNumeric     = errors.New("expression did not produce a number")
	errExpressionSize = fmt.Errorf("expression longer than %d characters", maxExpressionLen)
)

func funcOptions() []expr.Option {
	opts := make([]expr.Option, 0, len(mathFuncs))
	for name, fn := range mathFuncs {
		name, fn := name, fn
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
			}
			x, err := toFloat(params[0])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return fn(x), nil
		}))
	}
	return opts
}

func compile(expression string, vars map[string]float64, extra ...expr.Option) (*vm.Program, map[string]any, error) {
	if len(expression) > maxExpressionLen {
		return nil, nil, errExpressionSize
	}
	env := make(map[string]any, len(mathConsts)+len(vars))
	for k, v := range mathConsts {
		env[k] = v
	}
	for k, v := range vars {
		env[k] = v
	}
	opts := append(funcOptions(), expr.Env(env))
	opts = append(opts, extra...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid expression: %w", err)
	}
	return program, env, nil
}

func evaluate(expression string, precision int) (string, error) {
	program, env, err := compile(expression, nil)
	if err != nil {
		return "", err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}
	if b, ok := out.(bool); ok {
		return strconv.FormatBool(b), nil
	}
	v, err := toFloat(out)
	if err != nil {
		return "", err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", errNotFinite
	}
	if fv, ok := evaluateFloat(expression); ok && overflowed(v, fv) {
		return strconv.FormatFloat(fv, 'g', 15, 64), nil
	}
	return formatNumber(v, precision), nil
}

// floatLiterals rewrites integer literals as floats so arithmetic cannot
// wrap around int64.
type floatLiterals struct{}

func (floatLiterals) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IntegerNode); ok {
		ast.Patch(node, &ast.FloatNode{Value: float64(n.Value)})
	}
}

// evaluateFloat evaluates expression with every literal as float64. It
// reports false when that form does not compile or run (integer-only
// operators such as %).
func evaluateFloat(expression string) (float64, bool) {
	program, env, err := compile(expression, nil, expr.Patch(floatLiterals{}))
	if err != nil {
		return 0, false
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return 0, false
	}
	v, err := toFloat(out)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// overflowed reports whether the integer result disagrees with the float
// evaluation by more than float rounding can explain.
func overflowed(got, approx float64) bool {
	diff := math.Abs(got - approx)
	return diff > 1e-9*math.Max(1, math.Abs(approx))
}

// solve finds real roots of a single-variable equation. The search scans
// for sign changes and refines them by bisection, then runs Newton's method
// from a spread of starting points to catch roots that touch zero without
// crossing it.
func solve(expression string, precision int) (string, error) {
	fexpr, err := equationToZero(expression)
	if err != nil {
		return "", err
	}

	vars, err := freeVariables(fexpr)
	if err != nil {
		return "", err
	}
	switch len(vars) {
	case 0:
		return "", errNoVariables
	case 1:
	default:
		return "", fmt.Errorf("%w, found %s", errManyVariables, strings.Join(vars, ", "))
	}
	name := vars[0]

	program, env, err := compile(fexpr, map[string]float64{name: 0})
	if err != nil {
		return "", err
	}
	f := func(x float64) float64 {
		env[name] = x
		out, err := expr.Run(program, env)
		if err != nil {
			return math.NaN()
		}
		v, err := toFloat(out)
		if err != nil {
			return math.NaN()
		}
		return v
	}

	roots := findRoots(f)
	if len(roots) == 0 {
		return "", errNoSolution
	}

	parts := make([]string, len(roots))
	for i, r := range roots {
		parts[i] = formatNumber(r, precision)
	}
	return strings.Join(parts, ", "), nil
}

// equationToZero rewrites "lhs = rhs" as "(lhs) - (rhs)". Comparison
// operators (==, !=, <=, >=) are left alone.
func equationToZero(expression string) (string, error) {
	idx := -1
	for i := 0; i < len(expression); i++ {
		if expression[i] != '=' {
			continue
		}
		prevOp := i > 0 && strings.ContainsRune("=!<>", rune(expression[i-1]))
		nextEq := i+1 < len(expression) && expression[i+1] == '='
		if prevOp || nextEq {
			if nextEq {
				i++
			}
			continue
		}
		if idx >= 0 {
			return "", errors.New("equation contains more than one '='")
		}
		idx = i
	}
	if idx < 0 {
		return expression, nil
	}
	lhs := strings.TrimSpace(expression[:idx])
	rhs := strings.TrimSpace(expression[idx+1:])
	if lhs == "" || rhs == "" {
		return "", errors.New("equation needs expressions on both sides of '='")
	}
	return "(" + lhs + ") - (" + rhs + ")", nil
}

type identCollector struct {
	names map[string]bool
}

func (v *identCollector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		v.names[id.Value] = true
	}
}

func freeVariables(expression string) ([]string, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression: %w", err)
	}
	c := &identCollector{names: make(map[string]bool)}
	ast.Walk(&tree.Node, c)

	var vars []string
	for name := range c.names {
		if _, isFunc := mathFuncs[name]; isFunc {
			continue
		}
		if _, isConst := mathConsts[name]; isConst {
			continue
		}
		if builtinNames[name] {
			continue
		}
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars, nil
}

const (
	scanLimit   = 1000.0
	scanSteps   = 4000
	newtonIters = 60
	rootTol     = 1e-9
)

func findRoots(f func(float64) float64) []float64 {
	var roots []float64
	add := func(x float64) {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return
		}
		fx := f(x)
		if math.IsNaN(fx) || math.Abs(fx) > 1e-7*math.Max(1, math.Abs(x)) {
			return
		}
		for _, r := range roots {
			if scalar.EqualWithinAbsOrRel(r, x, 1e-7, 1e-7) {
				return
			}
		}
		roots = append(roots, x)
	}

	step := 2 * scanLimit / scanSteps
	prevX := -scanLimit
	prevY := f(prevX)
	if prevY == 0 {
		add(prevX)
	}
	for i := 1; i <= scanSteps; i++ {
		x := -scanLimit + float64(i)*step
		y := f(x)
		switch {
		case y == 0:
			add(x)
		case !math.IsNaN(prevY) && !math.IsNaN(y) && prevY != 0 && math.Signbit(prevY) != math.Signbit(y):
			add(bisect(f, prevX, x, prevY))
		}
		prevX, prevY = x, y
	}

	for _, x0 := range []float64{0, 0.5, -0.5, 1, -1, 2, -2, 5, -5, 10, -10, 100, -100, 1000, -1000} {
		if r, ok := newton(f, x0); ok {
			add(r)
		}
	}

	sort.Float64s(roots)
	return roots
}

func bisect(f func(float64) float64, lo, hi, flo float64) float64 {
	for i := 0; i < 200 && hi-lo > rootTol*math.Max(1, math.Abs(lo)); i++ {
		mid := lo + (hi-lo)/2
		fm := f(mid)
		if fm == 0 {
			return mid
		}
		if math.Signbit(fm) == math.Signbit(flo) {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return lo + (hi-lo)/2
}

func newton(f func(float64) float64, x float64) (float64, bool) {
	settings := &fd.Settings{Formula: fd.Central}
	for i := 0; i < newtonIters; i++ {
		fx := f(x)
		if math.IsNaN(fx) {
			return 0, false
		}
		if fx == 0 {
			return x, true
		}
		d := fd.Derivative(f, x, settings)
		if d == 0 || math.IsNaN(d) {
			return 0, false
		}
		next := x - fx/d
		if math.Abs(next-x) < rootTol*math.Max(1, math.Abs(x)) {
			return next, true
		}
		x = next
	}
	return x, true
}

// =============================================================================
// NUMBER HELPERS
// =============================================================================

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w (got %T)", errNotNumeric, v)
	}
}

// formatNumber prints integer values without a fraction and everything
// else rounded to precision decimal places with trailing zeros dropped.
func formatNumber(v float64, precision int) string {
	if math.Abs(v) < 1e15 && v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	r := scalar.Round(v, precision)
	if r == 0 {
		return "0"
	}
	if r == math.Trunc(r) && math.Abs(r) < 1e15 {
		return strconv.FormatInt(int64(r), 10)
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
