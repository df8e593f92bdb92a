package prediction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var DefaultDiscountRate = decimal.RequireFromString("0.30")

// DiscountPolicy grants a reduced price to holders of a paid, unexpired intent token.
type DiscountPolicy struct {
	repo RepositoryAPI
	rate decimal.Decimal
	now  func() time.Time
}

func NewDiscountPolicy(repo RepositoryAPI, rate decimal.Decimal, now func() time.Time) *DiscountPolicy {
	if now == nil {
		now = time.Now
	}
	return &DiscountPolicy{repo: repo, rate: rate, now: now}
}

func (d *DiscountPolicy) IsEligible(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	ok, err := d.repo.ExistsPaidAndActive(ctx, token, d.now())
	if err != nil {
		return false, fmt.Errorf("check discount token: %w", err)
	}
	return ok, nil
}

// ComputeFinalAmount rounds half-up to cents. Amounts are positive so
// decimal's half-away-from-zero rounding matches.
func (d *DiscountPolicy) ComputeFinalAmount(base decimal.Decimal, eligible bool) decimal.Decimal {
	if !eligible {
		return base
	}
	return base.Mul(decimal.NewFromInt(1).Sub(d.rate)).Round(2)
}
