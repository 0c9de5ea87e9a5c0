package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeSchedule computes transfer fees: BaseFee + amount * country rate.
type FeeSchedule struct {
	BaseFee      decimal.Decimal
	DefaultRate  decimal.Decimal
	CountryRates map[string]decimal.Decimal // ISO-3166 alpha-2, upper case
}

var defaultCountryRates = map[string]string{
	"CM": "0.015",
	"NG": "0.015",
	"GH": "0.015",
	"KE": "0.012",
	"SN": "0.018",
	"CI": "0.018",
	"ZA": "0.01",
}

// NewFeeSchedule builds the schedule from decimal strings, e.g. "2.99" and "0.02".
func NewFeeSchedule(baseFee, defaultRate string) (FeeSchedule, error) {
	base, err := decimal.NewFromString(baseFee)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid base fee %q: %w", baseFee, err)
	}
	def, err := decimal.NewFromString(defaultRate)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid default country rate %q: %w", defaultRate, err)
	}
	rates := make(map[string]decimal.Decimal, len(defaultCountryRates))
	for c, r := range defaultCountryRates {
		rates[c] = decimal.RequireFromString(r)
	}
	return FeeSchedule{BaseFee: base, DefaultRate: def, CountryRates: rates}, nil
}

// DefaultFeeSchedule is the schedule with a 2.99 base fee and a 2% fallback rate.
func DefaultFeeSchedule() FeeSchedule {
	fs, _ := NewFeeSchedule("2.99", "0.02")
	return fs
}

// RateFor returns the country rate. Unknown countries get DefaultRate.
func (f FeeSchedule) RateFor(country string) decimal.Decimal {
	if r, ok := f.CountryRates[strings.ToUpper(strings.TrimSpace(country))]; ok {
		return r
	}
	return f.DefaultRate
}

// Fee is rounded to cents.
func (f FeeSchedule) Fee(amount decimal.Decimal, country string) decimal.Decimal {
	return f.BaseFee.Add(amount.Mul(f.RateFor(country))).Round(2)
}

// EstimatedDelivery returns a human readable delivery window for a payment method.
func EstimatedDelivery(paymentMethod string) string {
	switch paymentMethod {
	case "mobile_money":
		return "Within 15 minutes"
	case "card", "cash_pickup":
		return "Within 1 hour"
	case "bank_transfer":
		return "1-2 business days"
	default:
		return "1-3 business days"
	}
}
