// Package token provides shared SKILL parsing and formatting utilities.
//
// SKILL is an 18-decimal ERC-20. All amounts are stored as big.Int in
// the smallest unit (1 SKILL = 10^18 wei-units). API surfaces exchange
// whole-token decimal strings; only the chain layer sees raw units.
package token

import (
	"fmt"
	"math/big"
	"strings"
)

const Decimals = 18

// unit is 10^18, the raw value of one whole SKILL.
var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts a decimal string (e.g. "12.5") to its smallest-unit
// big.Int representation.
//
// Rules:
//   - Empty string parses as 0
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 18 decimal places
func Parse(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}

	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 18 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return result, nil
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with trailing fractional zeros trimmed (e.g. "12.5", "150000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)

	whole := new(big.Int).Div(abs, unit)
	frac := new(big.Int).Mod(abs, unit)

	result := whole.String()
	if frac.Sign() != 0 {
		f := frac.String()
		for len(f) < Decimals {
			f = "0" + f
		}
		f = strings.TrimRight(f, "0")
		result += "." + f
	}
	if neg {
		result = "-" + result
	}
	return result
}

// Float returns the approximate whole-token value of a raw amount.
// Only for risk weighting and dashboards, never for settlement math.
func Float(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), new(big.Float).SetInt(unit)).Float64()
	return f
}
