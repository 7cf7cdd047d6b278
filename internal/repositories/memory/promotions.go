package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
)

type promotionRepository struct {
	s *Store
}

func promotionKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r promotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	var out domain.Promotion
	err := r.s.do(ctx, func(*journal) error {
		promo, ok := r.s.promotions[promotionKey(code)]
		if !ok {
			return notFound("promotions.find", "promotion %s not found", code)
		}
		out = clonePromotion(promo)
		return nil
	})
	return out, err
}

func (r promotionRepository) Upsert(ctx context.Context, promotion domain.Promotion) error {
	key := promotionKey(promotion.Code)
	if key == "" {
		return conflict("promotions.upsert", "promotion code is required")
	}
	promotion.Code = key
	stored := clonePromotion(promotion)
	return r.s.do(ctx, func(j *journal) error {
		prev, existed := r.s.promotions[key]
		r.s.promotions[key] = stored
		j.record(func() {
			if existed {
				r.s.promotions[key] = prev
				return
			}
			delete(r.s.promotions, key)
		})
		return nil
	})
}

func clonePromotion(promo domain.Promotion) domain.Promotion {
	out := promo
	out.CategoryIDs = slices.Clone(promo.CategoryIDs)
	out.ProductIDs = slices.Clone(promo.ProductIDs)
	if promo.MaxDiscount != nil {
		v := *promo.MaxDiscount
		out.MaxDiscount = &v
	}
	return out
}
