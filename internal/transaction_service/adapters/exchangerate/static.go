package exchangerate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/remitflow/golang_services/internal/transaction_service/domain"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// StaticProvider serves rates from a fixed table, e.g. "USD_XAF=605.50,EUR_XAF=655.96".
// Missing pairs fall back to the inverse of the opposite pair.
type StaticProvider struct {
	rates map[string]decimal.Decimal
	asOf  time.Time
}

func NewStaticProvider(table string, asOf time.Time) (*StaticProvider, error) {
	p := &StaticProvider{rates: make(map[string]decimal.Decimal), asOf: asOf.UTC()}
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		pair, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid rate entry %q", entry)
		}
		source, target, ok := strings.Cut(strings.TrimSpace(pair), "_")
		if !ok || source == "" || target == "" {
			return nil, fmt.Errorf("invalid currency pair %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", pair)
		}
		p.rates[key(source, target)] = rate
	}
	return p, nil
}

func (p *StaticProvider) GetRate(ctx context.Context, source, target string) (domain.Rate, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rate{}, err
	}
	if strings.EqualFold(source, target) {
		return domain.Rate{Value: decimal.NewFromInt(1), AsOf: p.asOf}, nil
	}
	if rate, ok := p.rates[key(source, target)]; ok {
		return domain.Rate{Value: rate, AsOf: p.asOf}, nil
	}
	if inverse, ok := p.rates[key(target, source)]; ok {
		return domain.Rate{Value: decimal.NewFromInt(1).DivRound(inverse, 8), AsOf: p.asOf}, nil
	}
	return domain.Rate{}, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, strings.ToUpper(source), strings.ToUpper(target))
}

func key(source, target string) string {
	return strings.ToUpper(source) + "_" + strings.ToUpper(target)
}
