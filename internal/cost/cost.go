// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cost converts token usage into dollar amounts for ragent.
//
// The calculator is pure: it never talks to the ledger and never caches.
// Session totals are the sum of locally computed per-call costs, which may
// drift slightly from the server's authoritative figure.
package cost

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// =============================================================================
// PRICING
// =============================================================================

const (
	// DefaultInputPerMillion is the default input token rate in dollars.
	DefaultInputPerMillion = 3.00

	// DefaultOutputPerMillion is the default output token rate in dollars.
	DefaultOutputPerMillion = 15.00

	tokensPerMillion = 1_000_000.0
)

// Rates holds per-million-token prices.
type Rates struct {
	InputPerMillion  float64 `json:"input_per_million" toml:"input_per_million" validate:"gte=0"`
	OutputPerMillion float64 `json:"output_per_million" toml:"output_per_million" validate:"gte=0"`
}

// DefaultRates returns the default Sonnet-class pricing.
func DefaultRates() Rates {
	return Rates{
		InputPerMillion:  DefaultInputPerMillion,
		OutputPerMillion: DefaultOutputPerMillion,
	}
}

// =============================================================================
// USAGE
// =============================================================================

// Usage is a pair of token counts reported for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator maps token counts to cost using fixed rates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a calculator. Negative rates are clamped to zero.
func NewCalculator(rates Rates) *Calculator {
	if rates.InputPerMillion < 0 {
		rates.InputPerMillion = 0
	}
	if rates.OutputPerMillion < 0 {
		rates.OutputPerMillion = 0
	}
	return &Calculator{rates: rates}
}

// Rates returns the configured rates.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Cost returns the dollar cost of the given token counts.
func (c *Calculator) Cost(inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) / tokensPerMillion * c.rates.InputPerMillion
	outputCost := float64(outputTokens) / tokensPerMillion * c.rates.OutputPerMillion
	return inputCost + outputCost
}

// UsageCost is Cost applied to a Usage value.
func (c *Calculator) UsageCost(u Usage) float64 {
	return c.Cost(u.InputTokens, u.OutputTokens)
}

// =============================================================================
// FORMATTING
// =============================================================================

var printer = message.NewPrinter(language.English)

// FormatUSD formats a per-call cost with six decimals, or two for amounts
// of a dollar or more.
func FormatUSD(amount float64) string {
	if math.Abs(amount) >= 1 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.6f", amount)
}

// FormatTokens renders a token count with thousands separators.
func FormatTokens(n int) string {
	return printer.Sprintf("%d", n)
}
