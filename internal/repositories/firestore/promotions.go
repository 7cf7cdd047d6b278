package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
)

type promotionDocument struct {
	Description    string    `firestore:"description,omitempty"`
	Type           string    `firestore:"type"`
	Value          float64   `firestore:"value"`
	MinOrderAmount int64     `firestore:"minOrderAmount"`
	MaxDiscount    *int64    `firestore:"maxDiscount,omitempty"`
	UsageLimit     int       `firestore:"usageLimit"`
	UsedCount      int       `firestore:"usedCount"`
	Active         bool      `firestore:"active"`
	ValidFrom      time.Time `firestore:"validFrom"`
	ValidUntil     time.Time `firestore:"validUntil"`
	CategoryIDs    []string  `firestore:"categoryIds,omitempty"`
	ProductIDs     []string  `firestore:"productIds,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// PromotionRepository stores promotions keyed by their upper-cased code.
type PromotionRepository struct {
	store
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return domain.Promotion{}, pfirestore.NotFound("promotions.find", errors.New("promotion code is empty"))
	}
	ref, err := r.doc(ctx, promotionsCollection, key)
	if err != nil {
		return domain.Promotion{}, pfirestore.WrapError("promotions.find", err)
	}
	snap, err := r.get(ctx, ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Promotion{}, pfirestore.NotFound("promotions.find", fmt.Errorf("promotion %s not found", key))
		}
		return domain.Promotion{}, pfirestore.WrapError("promotions.find", err)
	}
	var doc promotionDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Promotion{}, fmt.Errorf("decode promotion %s: %w", key, err)
	}
	return domain.Promotion{
		Code:           snap.Ref.ID,
		Description:    doc.Description,
		Type:           domain.DiscountType(doc.Type),
		Value:          doc.Value,
		MinOrderAmount: doc.MinOrderAmount,
		MaxDiscount:    doc.MaxDiscount,
		UsageLimit:     doc.UsageLimit,
		UsedCount:      doc.UsedCount,
		Active:         doc.Active,
		ValidFrom:      doc.ValidFrom.UTC(),
		ValidUntil:     doc.ValidUntil.UTC(),
		CategoryIDs:    doc.CategoryIDs,
		ProductIDs:     doc.ProductIDs,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}, nil
}

func (r *PromotionRepository) Upsert(ctx context.Context, promo domain.Promotion) error {
	key := strings.ToUpper(strings.TrimSpace(promo.Code))
	if key == "" {
		return errors.New("promotions.upsert: code is required")
	}
	ref, err := r.doc(ctx, promotionsCollection, key)
	if err != nil {
		return pfirestore.WrapError("promotions.upsert", err)
	}
	doc := promotionDocument{
		Description:    promo.Description,
		Type:           string(promo.Type),
		Value:          promo.Value,
		MinOrderAmount: promo.MinOrderAmount,
		MaxDiscount:    promo.MaxDiscount,
		UsageLimit:     promo.UsageLimit,
		UsedCount:      promo.UsedCount,
		Active:         promo.Active,
		ValidFrom:      promo.ValidFrom.UTC(),
		ValidUntil:     promo.ValidUntil.UTC(),
		CategoryIDs:    promo.CategoryIDs,
		ProductIDs:     promo.ProductIDs,
		CreatedAt:      promo.CreatedAt.UTC(),
		UpdatedAt:      promo.UpdatedAt.UTC(),
	}
	return pfirestore.WrapError("promotions.upsert", r.set(ctx, ref, doc))
}
