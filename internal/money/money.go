// Package money переводит суммы между основными единицами валюты и минимальными (центами).
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ToMinor переводит сумму в центы с округлением половины вверх.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor переводит центы в основные единицы.
func FromMinor(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Round округляет сумму до центов половиной вверх.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Parse разбирает десятичную строку суммы и округляет её до центов.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Round(d), nil
}

// Currency нормализует код валюты ISO 4217 в нижний регистр.
func Currency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
