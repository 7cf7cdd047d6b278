package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrRepositoryUnavailable marks persistence failures: the store is unreachable or returned
	// corrupt data.
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the target status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent update or duplicate order.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")

	// ErrStockInvalidInput signals a malformed stock request.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockNotFound indicates the product has no stock record.
	ErrStockNotFound = errors.New("stock: product not found")
	// ErrStockInsufficient indicates checkout requested more than is available.
	ErrStockInsufficient = errors.New("stock: insufficient stock")

	// ErrPromotionInvalidInput signals a malformed promotion definition.
	ErrPromotionInvalidInput = errors.New("promotion: invalid input")
	// ErrPromotionNotFound indicates no promotion exists for the code.
	ErrPromotionNotFound = errors.New("promotion: not found")
	// ErrPromotionIneligible indicates the promotion exists but cannot be applied.
	ErrPromotionIneligible = errors.New("promotion: ineligible")

	// ErrReturnInvalidInput signals missing or malformed return fields.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnNoItemsSelected indicates every requested quantity was zero.
	ErrReturnNoItemsSelected = errors.New("return: no items selected")
	// ErrReturnWindowExpired indicates the order is not delivered or the return window has closed.
	ErrReturnWindowExpired = errors.New("return: return window expired")
	// ErrReturnInvalidState indicates the action is not allowed in the current phase.
	ErrReturnInvalidState = errors.New("return: invalid state")
	// ErrReturnConflict indicates a concurrent update or an already open return.
	ErrReturnConflict = errors.New("return: conflict")

	// ErrAuditLogInvalidInput signals an invalid audit log query.
	ErrAuditLogInvalidInput = errors.New("audit log: invalid input")

	// ErrStatsInvalidInput signals an invalid statistics query.
	ErrStatsInvalidInput = errors.New("stats: invalid input")
	// ErrStatsExportUnavailable indicates no exporter is configured.
	ErrStatsExportUnavailable = errors.New("stats: export not configured")
)

// Promotion ineligibility reasons, in the order they are checked.
const (
	PromotionReasonNotFound      = "not_found"
	PromotionReasonInactive      = "inactive"
	PromotionReasonNotStarted    = "not_started"
	PromotionReasonExpired       = "expired"
	PromotionReasonUsageLimit    = "usage_limit_reached"
	PromotionReasonMinimumOrder  = "minimum_not_met"
	PromotionReasonNotApplicable = "not_applicable"
)

// PromotionIneligibleError explains why a promotion failed validation.
type PromotionIneligibleError struct {
	Code    string
	Reason  string
	Message string
}

func (e *PromotionIneligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPromotionIneligible.Error(), e.Message)
}

func (e *PromotionIneligibleError) Unwrap() error {
	return ErrPromotionIneligible
}

func mapRepositoryError(err, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
