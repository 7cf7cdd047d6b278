package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const maxPromotionDescriptionLength = 280

// DiscountEngineDeps bundles collaborators required to construct the discount engine.
type DiscountEngineDeps struct {
	Promotions repositories.PromotionRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Logger     Logger
	Audit      AuditLogService
}

type discountEngine struct {
	promotions repositories.PromotionRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	logger     Logger
	audit      AuditLogService
}

// NewDiscountEngine wires the discount engine.
func NewDiscountEngine(deps DiscountEngineDeps) (DiscountEngine, error) {
	if deps.Promotions == nil {
		return nil, errors.New("discount engine: promotion repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	audit := deps.Audit
	if audit == nil {
		audit = noopAuditLog{}
	}
	return &discountEngine{
		promotions: deps.Promotions,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		audit:  audit,
	}, nil
}

// Validate runs the eligibility checks in order and stops at the first failure. A UsageLimit of
// zero means the code has no usage limit.
func (e *discountEngine) Validate(ctx context.Context, code string, subtotal int64, categoryIDs, productIDs []string) (Promotion, error) {
	key := normalisePromotionCode(code)
	if key == "" {
		return Promotion{}, &PromotionIneligibleError{Reason: PromotionReasonNotFound, Message: "promo code is required"}
	}
	promo, err := e.promotions.FindByCode(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return Promotion{}, &PromotionIneligibleError{Code: key, Reason: PromotionReasonNotFound, Message: "invalid promo code"}
		}
		return Promotion{}, mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
	}
	if err := checkPromotionEligibility(promo, e.clock(), subtotal, categoryIDs, productIDs); err != nil {
		return Promotion{}, err
	}
	return promo, nil
}

func checkPromotionEligibility(promo Promotion, now time.Time, subtotal int64, categoryIDs, productIDs []string) error {
	fail := func(reason, format string, args ...any) error {
		return &PromotionIneligibleError{Code: promo.Code, Reason: reason, Message: fmt.Sprintf(format, args...)}
	}
	switch {
	case !promo.Active:
		return fail(PromotionReasonInactive, "promo code %s is not active", promo.Code)
	case !promo.ValidFrom.IsZero() && now.Before(promo.ValidFrom):
		return fail(PromotionReasonNotStarted, "promo code %s is not valid yet", promo.Code)
	case !promo.ValidUntil.IsZero() && now.After(promo.ValidUntil):
		return fail(PromotionReasonExpired, "promo code %s has expired", promo.Code)
	case promo.UsageLimit > 0 && promo.UsedCount >= promo.UsageLimit:
		return fail(PromotionReasonUsageLimit, "promo code %s has reached its usage limit", promo.Code)
	case subtotal < promo.MinOrderAmount:
		return fail(PromotionReasonMinimumOrder, "minimum order amount of %d required for %s", promo.MinOrderAmount, promo.Code)
	}
	if len(promo.CategoryIDs) > 0 || len(promo.ProductIDs) > 0 {
		if !intersects(promo.CategoryIDs, categoryIDs) && !intersects(promo.ProductIDs, productIDs) {
			return fail(PromotionReasonNotApplicable, "promo code %s does not apply to the items in this order", promo.Code)
		}
	}
	return nil
}

// CalculateDiscount applies the promotion to subtotal. The result is capped at MaxDiscount, then at
// the subtotal, and rounded to whole currency units.
func (e *discountEngine) CalculateDiscount(promo Promotion, subtotal int64) int64 {
	return calculateDiscount(promo, subtotal)
}

func calculateDiscount(promo Promotion, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	var amount float64
	switch promo.Type {
	case domain.DiscountTypePercentage:
		amount = float64(subtotal) * promo.Value / 100
	case domain.DiscountTypeFixed:
		amount = promo.Value
	}
	if promo.MaxDiscount != nil && amount > float64(*promo.MaxDiscount) {
		amount = float64(*promo.MaxDiscount)
	}
	if amount > float64(subtotal) {
		amount = float64(subtotal)
	}
	if amount <= 0 {
		return 0
	}
	return domain.RoundCurrency(amount)
}

// Apply increments the usage counter of code by one.
func (e *discountEngine) Apply(ctx context.Context, code string) (Promotion, error) {
	key := normalisePromotionCode(code)
	if key == "" {
		return Promotion{}, fmt.Errorf("%w: code is required", ErrPromotionInvalidInput)
	}
	var applied Promotion
	err := e.unitOfWork.RunInTx(ctx, func(ctx context.Context) error {
		promo, err := e.promotions.FindByCode(ctx, key)
		if err != nil {
			return mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
		}
		applied, err = e.Redeem(ctx, promo)
		return err
	})
	if err != nil {
		return Promotion{}, err
	}
	return applied, nil
}

func (e *discountEngine) Redeem(ctx context.Context, promo Promotion) (Promotion, error) {
	if promo.UsageLimit > 0 && promo.UsedCount >= promo.UsageLimit {
		return Promotion{}, &PromotionIneligibleError{
			Code:    promo.Code,
			Reason:  PromotionReasonUsageLimit,
			Message: fmt.Sprintf("promo code %s has reached its usage limit", promo.Code),
		}
	}
	promo.UsedCount++
	promo.UpdatedAt = e.clock()
	if err := e.promotions.Upsert(ctx, promo); err != nil {
		return Promotion{}, mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
	}
	e.logger(ctx, "promotion.redeemed", map[string]any{
		"code":      promo.Code,
		"usedCount": promo.UsedCount,
	})
	return promo, nil
}

func (e *discountEngine) Get(ctx context.Context, code string) (Promotion, error) {
	key := normalisePromotionCode(code)
	if key == "" {
		return Promotion{}, fmt.Errorf("%w: code is required", ErrPromotionInvalidInput)
	}
	promo, err := e.promotions.FindByCode(ctx, key)
	if err != nil {
		return Promotion{}, mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
	}
	return promo, nil
}

func (e *discountEngine) Upsert(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promo, err := buildPromotion(cmd)
	if err != nil {
		return Promotion{}, err
	}
	now := e.clock()
	actor := firstNonEmpty(cmd.Actor, systemActor)
	err = runInTx(ctx, e.unitOfWork, func(ctx context.Context) error {
		var before *Promotion
		existing, err := e.promotions.FindByCode(ctx, promo.Code)
		switch {
		case err == nil:
			before = &existing
			promo.UsedCount = existing.UsedCount
			promo.CreatedAt = existing.CreatedAt
		case isNotFound(err):
			promo.CreatedAt = now
		default:
			return mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
		}
		promo.UpdatedAt = now
		if err := e.promotions.Upsert(ctx, promo); err != nil {
			return mapRepositoryError(err, ErrPromotionNotFound, ErrPromotionInvalidInput)
		}
		diff := diffPromotions(before, promo)
		afterCommit(ctx, func(ctx context.Context) {
			if len(diff) == 0 {
				return
			}
			e.audit.Record(ctx, AuditLogRecord{
				Actor:      actor,
				Action:     AuditActionPromotionUpsert,
				TargetRef:  "/promotions/" + promo.Code,
				OccurredAt: now,
				Metadata:   map[string]any{"created": before == nil},
				Diff:       diff,
			})
		})
		return nil
	})
	if err != nil {
		return Promotion{}, err
	}
	return promo, nil
}

func buildPromotion(cmd UpsertPromotionCommand) (Promotion, error) {
	code := normalisePromotionCode(cmd.Code)
	if code == "" {
		return Promotion{}, fmt.Errorf("%w: code is required", ErrPromotionInvalidInput)
	}
	switch cmd.Type {
	case domain.DiscountTypePercentage:
		if cmd.Value <= 0 || cmd.Value > 100 {
			return Promotion{}, fmt.Errorf("%w: percentage must be within (0, 100]", ErrPromotionInvalidInput)
		}
	case domain.DiscountTypeFixed:
		if cmd.Value <= 0 {
			return Promotion{}, fmt.Errorf("%w: fixed value must be positive", ErrPromotionInvalidInput)
		}
	default:
		return Promotion{}, fmt.Errorf("%w: unsupported discount type %q", ErrPromotionInvalidInput, cmd.Type)
	}
	if cmd.UsageLimit < 0 || cmd.MinOrderAmount < 0 {
		return Promotion{}, fmt.Errorf("%w: usage limit and minimum order must not be negative", ErrPromotionInvalidInput)
	}
	if cmd.MaxDiscount != nil && *cmd.MaxDiscount < 0 {
		return Promotion{}, fmt.Errorf("%w: max discount must not be negative", ErrPromotionInvalidInput)
	}
	if !cmd.ValidFrom.IsZero() && !cmd.ValidUntil.IsZero() && cmd.ValidUntil.Before(cmd.ValidFrom) {
		return Promotion{}, fmt.Errorf("%w: validUntil precedes validFrom", ErrPromotionInvalidInput)
	}
	return Promotion{
		Code:           code,
		Description:    textutil.SanitizePlain(cmd.Description, maxPromotionDescriptionLength),
		Type:           cmd.Type,
		Value:          cmd.Value,
		MinOrderAmount: cmd.MinOrderAmount,
		MaxDiscount:    cmd.MaxDiscount,
		UsageLimit:     cmd.UsageLimit,
		Active:         cmd.Active,
		ValidFrom:      cmd.ValidFrom.UTC(),
		ValidUntil:     cmd.ValidUntil.UTC(),
		CategoryIDs:    compactIDs(cmd.CategoryIDs),
		ProductIDs:     compactIDs(cmd.ProductIDs),
	}, nil
}

func normalisePromotionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func intersects(allowed, candidates []string) bool {
	for _, c := range candidates {
		if slices.Contains(allowed, c) {
			return true
		}
	}
	return false
}

func compactIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
