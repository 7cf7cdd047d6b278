package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

func TestCheckPromotionEligibilityReasons(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	base := Promotion{
		Code:           "SPRING",
		Type:           domain.DiscountTypePercentage,
		Value:          10,
		MinOrderAmount: 1000,
		UsageLimit:     100,
		UsedCount:      10,
		Active:         true,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(24 * time.Hour),
	}

	cases := []struct {
		name     string
		mutate   func(*Promotion)
		subtotal int64
		products []string
		want     string
	}{
		{name: "inactive", mutate: func(p *Promotion) { p.Active = false }, subtotal: 5000, want: PromotionReasonInactive},
		{name: "not started", mutate: func(p *Promotion) { p.ValidFrom = now.Add(time.Hour) }, subtotal: 5000, want: PromotionReasonNotStarted},
		{name: "expired", mutate: func(p *Promotion) { p.ValidUntil = now.Add(-time.Second) }, subtotal: 5000, want: PromotionReasonExpired},
		{
			name: "usage limit wins over minimum",
			mutate: func(p *Promotion) {
				p.UsedCount = 100
			},
			subtotal: 10,
			want:     PromotionReasonUsageLimit,
		},
		{name: "minimum", mutate: func(p *Promotion) {}, subtotal: 999, want: PromotionReasonMinimumOrder},
		{name: "not applicable", mutate: func(p *Promotion) { p.ProductIDs = []string{"sku-9"} }, subtotal: 5000, products: []string{"sku-1"}, want: PromotionReasonNotApplicable},
		{name: "eligible", mutate: func(p *Promotion) {}, subtotal: 1000},
		{name: "unlimited usage", mutate: func(p *Promotion) { p.UsageLimit = 0; p.UsedCount = 5000 }, subtotal: 1000},
		{name: "window bounds inclusive", mutate: func(p *Promotion) { p.ValidFrom = now; p.ValidUntil = now }, subtotal: 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			promo := base
			tc.mutate(&promo)
			err := checkPromotionEligibility(promo, now, tc.subtotal, nil, tc.products)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected eligible, got %v", err)
				}
				return
			}
			var ineligible *PromotionIneligibleError
			if !errors.As(err, &ineligible) {
				t.Fatalf("expected PromotionIneligibleError, got %v", err)
			}
			if ineligible.Reason != tc.want {
				t.Fatalf("expected reason %s, got %s (%s)", tc.want, ineligible.Reason, ineligible.Message)
			}
			if !errors.Is(err, ErrPromotionIneligible) {
				t.Fatalf("expected error to unwrap to ErrPromotionIneligible")
			}
		})
	}
}

func TestCalculateDiscount(t *testing.T) {
	maxDiscount := int64(300)
	cases := []struct {
		name     string
		promo    Promotion
		subtotal int64
		want     int64
	}{
		{name: "percentage", promo: Promotion{Type: domain.DiscountTypePercentage, Value: 10}, subtotal: 4000, want: 400},
		{name: "percentage rounds", promo: Promotion{Type: domain.DiscountTypePercentage, Value: 12.5}, subtotal: 999, want: 125},
		{name: "percentage capped", promo: Promotion{Type: domain.DiscountTypePercentage, Value: 50, MaxDiscount: &maxDiscount}, subtotal: 4000, want: 300},
		{name: "fixed", promo: Promotion{Type: domain.DiscountTypeFixed, Value: 50}, subtotal: 6000, want: 50},
		{name: "fixed capped at subtotal", promo: Promotion{Type: domain.DiscountTypeFixed, Value: 500}, subtotal: 200, want: 200},
		{name: "empty cart", promo: Promotion{Type: domain.DiscountTypeFixed, Value: 50}, subtotal: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := calculateDiscount(tc.promo, tc.subtotal); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestDiscountEngineApplyStopsAtUsageLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.discounts.Upsert(ctx, UpsertPromotionCommand{
		Code:       "once",
		Type:       domain.DiscountTypePercentage,
		Value:      5,
		UsageLimit: 1,
		Active:     true,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	applied, err := env.discounts.Apply(ctx, "ONCE")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if applied.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", applied.UsedCount)
	}
	_, err = env.discounts.Apply(ctx, "once")
	var ineligible *PromotionIneligibleError
	if !errors.As(err, &ineligible) || ineligible.Reason != PromotionReasonUsageLimit {
		t.Fatalf("expected usage limit error, got %v", err)
	}
	if _, err := env.discounts.Validate(ctx, "once", 1000, nil, nil); !errors.Is(err, ErrPromotionIneligible) {
		t.Fatalf("expected validate to fail once exhausted, got %v", err)
	}
}

func TestDiscountEngineUpsertKeepsUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cmd := UpsertPromotionCommand{Code: "Diwali", Type: domain.DiscountTypeFixed, Value: 100, Active: true}
	created, err := env.discounts.Upsert(ctx, cmd)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created.Code != "DIWALI" {
		t.Fatalf("expected upper-cased code, got %q", created.Code)
	}
	if _, err := env.discounts.Apply(ctx, "diwali"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	env.clock.Advance(time.Hour)

	cmd.Value = 150
	updated, err := env.discounts.Upsert(ctx, cmd)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if updated.UsedCount != 1 || updated.Value != 150 || !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("unexpected updated promotion %+v", updated)
	}

	invalid := []UpsertPromotionCommand{
		{Code: "", Type: domain.DiscountTypeFixed, Value: 1},
		{Code: "X", Type: domain.DiscountTypePercentage, Value: 120},
		{Code: "X", Type: "bogo", Value: 1},
		{Code: "X", Type: domain.DiscountTypeFixed, Value: 1, ValidFrom: env.clock.Now(), ValidUntil: env.clock.Now().Add(-time.Hour)},
	}
	for i, cmd := range invalid {
		if _, err := env.discounts.Upsert(ctx, cmd); !errors.Is(err, ErrPromotionInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}
