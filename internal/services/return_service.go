package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/pagination"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	// DefaultReturnWindow is how long after delivery a return may be requested.
	DefaultReturnWindow = 7 * 24 * time.Hour

	returnIDPrefix          = "ret_"
	maxReturnReasonRunes    = 200
	maxReturnDescRunes      = 2000
	maxReturnAdminNoteRunes = 1000
)

// ReturnServiceDeps bundles collaborators required to construct the return workflow.
type ReturnServiceDeps struct {
	Orders       repositories.OrderRepository
	Returns      repositories.ReturnRepository
	Lifecycle    OrderLifecycle
	UnitOfWork   repositories.UnitOfWork
	ReturnWindow time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       Logger
	Events       EventPublisher
	Metrics      Metrics
}

type returnService struct {
	orders     repositories.OrderRepository
	returns    repositories.ReturnRepository
	lifecycle  returnTransitioner
	unitOfWork repositories.UnitOfWork
	window     time.Duration
	clock      func() time.Time
	newID      func() string
	logger     Logger
	events     EventPublisher
	metrics    Metrics
}

// NewReturnService wires the return workflow.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Lifecycle == nil {
		return nil, errors.New("return service: order lifecycle is required")
	}
	lifecycle, ok := deps.Lifecycle.(returnTransitioner)
	if !ok {
		return nil, errors.New("return service: order lifecycle must come from NewOrderLifecycle")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	window := deps.ReturnWindow
	if window <= 0 {
		window = DefaultReturnWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &returnService{
		orders:     deps.Orders,
		returns:    deps.Returns,
		lifecycle:  lifecycle,
		unitOfWork: unit,
		window:     window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		events:  deps.Events,
		metrics: metrics,
	}, nil
}

func (s *returnService) CheckEligibility(ctx context.Context, orderID string) (ReturnEligibility, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return ReturnEligibility{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return ReturnEligibility{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return returnEligibility(order, s.clock(), s.window), nil
}

// returnEligibility evaluates the return window against one reading of now. Delivery time falls
// back to the last update and then to creation when the order carries no delivery timestamp.
func returnEligibility(order Order, now time.Time, window time.Duration) ReturnEligibility {
	deliveredAt := order.CreatedAt
	switch {
	case order.DeliveredAt != nil:
		deliveredAt = *order.DeliveredAt
	case !order.UpdatedAt.IsZero():
		deliveredAt = order.UpdatedAt
	}
	result := ReturnEligibility{DeliveredAt: deliveredAt}
	if order.Status != domain.OrderStatusDelivered {
		result.Reason = fmt.Sprintf("order is %s, only delivered orders can be returned", order.Status)
		return result
	}
	elapsed := now.Sub(deliveredAt)
	if elapsed > window {
		result.Reason = fmt.Sprintf("return window of %d days has closed", int(window.Hours()/24))
		return result
	}
	result.Eligible = true
	result.RemainingDays = int(math.Ceil((window - max(elapsed, 0)).Hours() / 24))
	return result
}

func (s *returnService) CreateReturnRequest(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	selected := 0
	for _, line := range cmd.Items {
		if line.Quantity < 0 {
			return ReturnRequest{}, fmt.Errorf("%w: return quantity must not be negative", ErrReturnInvalidInput)
		}
		if line.Quantity > 0 {
			selected++
		}
	}
	if selected == 0 {
		return ReturnRequest{}, ErrReturnNoItemsSelected
	}
	reason := textutil.SanitizePlain(cmd.Reason, maxReturnReasonRunes)
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	var created ReturnRequest
	err := runInTx(ctx, s.unitOfWork, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if customer := strings.TrimSpace(cmd.CustomerID); customer != "" && customer != order.CustomerID {
			return fmt.Errorf("%w: order %s belongs to another customer", ErrOrderForbidden, orderID)
		}
		open, err := s.returns.List(ctx, ReturnListFilter{
			OrderID:    order.ID,
			Statuses:   slices.Clone(domain.OpenReturnStatuses),
			Pagination: domain.Pagination{PageSize: 1},
		})
		if err != nil {
			return mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
		}
		if len(open.Items) > 0 {
			return fmt.Errorf("%w: order %s already has open return %s", ErrReturnInvalidState, order.ID, open.Items[0].ID)
		}
		if eligibility := returnEligibility(order, now, s.window); !eligibility.Eligible {
			return fmt.Errorf("%w: %s", ErrReturnWindowExpired, eligibility.Reason)
		}
		items, refund, err := buildReturnItems(order, cmd.Items)
		if err != nil {
			return err
		}

		ret := ReturnRequest{
			ID:             returnIDPrefix + strings.ToLower(s.newID()),
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			CustomerID:     order.CustomerID,
			RequesterEmail: firstNonEmpty(cmd.RequesterEmail, order.CustomerEmail),
			Items:          items,
			Reason:         reason,
			Description:    textutil.SanitizePlain(cmd.Description, maxReturnDescRunes),
			Status:         domain.ReturnStatusPendingApproval,
			RefundAmount:   refund,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if _, err := s.lifecycle.transitionForReturn(ctx, TransitionCommand{
			OrderID: order.ID,
			Status:  domain.OrderStatusReturnRequested,
			Actor:   firstNonEmpty(ret.RequesterEmail, ret.CustomerID),
			Note:    "return requested: " + reason,
		}, returnLink{returnID: ret.ID}); err != nil {
			return err
		}
		if err := s.returns.Insert(ctx, ret); err != nil {
			return mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
		}
		created = ret
		afterCommit(ctx, func(ctx context.Context) {
			s.emit(ctx, EventReturnRequested, ret, "", firstNonEmpty(ret.RequesterEmail, ret.CustomerID))
		})
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	return created, nil
}

func buildReturnItems(order Order, lines []ReturnLine) ([]ReturnItem, int64, error) {
	seen := make(map[int]bool, len(lines))
	var (
		items  []ReturnItem
		refund int64
	)
	for _, line := range lines {
		if line.Quantity == 0 {
			continue
		}
		if line.LineIndex < 0 || line.LineIndex >= len(order.Items) {
			return nil, 0, fmt.Errorf("%w: line %d does not exist on order %s", ErrReturnInvalidInput, line.LineIndex, order.ID)
		}
		if seen[line.LineIndex] {
			return nil, 0, fmt.Errorf("%w: line %d selected twice", ErrReturnInvalidInput, line.LineIndex)
		}
		seen[line.LineIndex] = true
		ordered := order.Items[line.LineIndex]
		if line.Quantity > ordered.Quantity {
			return nil, 0, fmt.Errorf("%w: line %d return quantity %d exceeds ordered %d", ErrReturnInvalidInput, line.LineIndex, line.Quantity, ordered.Quantity)
		}
		switch line.Condition {
		case domain.ItemConditionNew, domain.ItemConditionUsed, domain.ItemConditionDamaged:
		default:
			return nil, 0, fmt.Errorf("%w: line %d condition %q is not one of new, used, damaged", ErrReturnInvalidInput, line.LineIndex, line.Condition)
		}
		items = append(items, ReturnItem{
			LineIndex:     line.LineIndex,
			ProductID:     ordered.ProductID,
			Name:          ordered.Name,
			OrderedQty:    ordered.Quantity,
			ReturnQty:     line.Quantity,
			OriginalPrice: ordered.UnitPrice,
			Condition:     line.Condition,
			Reason:        textutil.SanitizePlain(line.Reason, maxReturnReasonRunes),
		})
		refund += ordered.UnitPrice * int64(line.Quantity)
	}
	return items, refund, nil
}

func (s *returnService) Approve(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	return s.advance(ctx, returnStep{
		returnID:    cmd.ReturnID,
		actor:       cmd.Actor,
		target:      domain.ReturnStatusApproved,
		orderStatus: domain.OrderStatusReturnApproved,
		note:        "return approved",
		mutate: func(ret *ReturnRequest, actor string, now time.Time) {
			ret.ApprovedBy = actor
			ret.ApprovedAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

// Reject closes the request and returns the order to delivered, which consumes any stock the
// request had restored.
func (s *returnService) Reject(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	reason := textutil.SanitizePlain(cmd.Reason, maxReturnReasonRunes)
	if reason == "" {
		return ReturnRequest{}, fmt.Errorf("%w: rejection reason is required", ErrReturnInvalidInput)
	}
	return s.advance(ctx, returnStep{
		returnID:    cmd.ReturnID,
		actor:       cmd.Actor,
		target:      domain.ReturnStatusRejected,
		orderStatus: domain.OrderStatusDelivered,
		note:        "return rejected: " + reason,
		mutate: func(ret *ReturnRequest, actor string, now time.Time) {
			ret.RejectionReason = reason
			ret.RejectedBy = actor
			ret.RejectedAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

func (s *returnService) SchedulePickup(ctx context.Context, cmd SchedulePickupCommand) (ReturnRequest, error) {
	if cmd.PickupDate.IsZero() {
		return ReturnRequest{}, fmt.Errorf("%w: pickup date is required", ErrReturnInvalidInput)
	}
	pickup := cmd.PickupDate.UTC()
	carrier := textutil.SanitizePlain(cmd.Carrier, maxReturnReasonRunes)
	return s.advance(ctx, returnStep{
		returnID:    cmd.ReturnID,
		actor:       cmd.Actor,
		target:      domain.ReturnStatusPickupScheduled,
		orderStatus: domain.OrderStatusReturnPickupScheduled,
		note:        "pickup scheduled for " + pickup.Format(time.DateOnly),
		mutate: func(ret *ReturnRequest, _ string, now time.Time) {
			ret.PickupDate = &pickup
			ret.PickupCarrier = carrier
			ret.PickupScheduledAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

func (s *returnService) MarkPickedUp(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	return s.advance(ctx, returnStep{
		returnID:    cmd.ReturnID,
		actor:       cmd.Actor,
		target:      domain.ReturnStatusPickedUp,
		orderStatus: domain.OrderStatusReturnPickedUp,
		note:        "return picked up",
		mutate: func(ret *ReturnRequest, _ string, now time.Time) {
			ret.PickedUpAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

func (s *returnService) MarkReceived(ctx context.Context, cmd ReturnActionCommand) (ReturnRequest, error) {
	return s.advance(ctx, returnStep{
		returnID:       cmd.ReturnID,
		actor:          cmd.Actor,
		target:         domain.ReturnStatusReceived,
		orderStatus:    domain.OrderStatusReturnReceived,
		note:           "return received",
		ensureRestored: true,
		mutate: func(ret *ReturnRequest, actor string, now time.Time) {
			ret.ReceivedBy = actor
			ret.ReceivedAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

// ProcessRefund records the payout. The refund amount fixed at request time is never recomputed.
func (s *returnService) ProcessRefund(ctx context.Context, cmd RefundCommand) (ReturnRequest, error) {
	method := strings.TrimSpace(cmd.Method)
	if method == "" {
		return ReturnRequest{}, fmt.Errorf("%w: refund method is required", ErrReturnInvalidInput)
	}
	reference := textutil.SanitizePlain(cmd.Reference, maxReturnReasonRunes)
	return s.advance(ctx, returnStep{
		returnID:       cmd.ReturnID,
		actor:          cmd.Actor,
		target:         domain.ReturnStatusRefunded,
		orderStatus:    domain.OrderStatusRefunded,
		note:           "refund processed via " + method,
		ensureRestored: true,
		mutate: func(ret *ReturnRequest, actor string, now time.Time) {
			ret.RefundMethod = method
			ret.RefundReference = reference
			ret.RefundedBy = actor
			ret.RefundedAt = &now
			appendAdminNote(ret, cmd.Notes)
		},
	})
}

func (s *returnService) GetReturn(ctx context.Context, returnID string) (ReturnRequest, error) {
	id := strings.TrimSpace(returnID)
	if id == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	ret, err := s.returns.FindByID(ctx, id)
	if err != nil {
		return ReturnRequest{}, mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
	}
	return ret, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error) {
	for _, status := range filter.Statuses {
		if _, ok := domain.ParseReturnStatus(string(status)); !ok {
			return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: unknown status %q", ErrReturnInvalidInput, status)
		}
	}
	page, err := s.returns.List(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[ReturnRequest]{}, fmt.Errorf("%w: %v", ErrReturnInvalidInput, err)
		}
		return domain.CursorPage[ReturnRequest]{}, mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
	}
	return page, nil
}

type returnStep struct {
	returnID       string
	actor          string
	target         ReturnStatus
	orderStatus    OrderStatus
	note           string
	ensureRestored bool
	mutate         func(ret *ReturnRequest, actor string, now time.Time)
}

// advance moves a return request one phase forward and mirrors the phase onto its order through
// the lifecycle, in one unit of work.
func (s *returnService) advance(ctx context.Context, step returnStep) (ReturnRequest, error) {
	id := strings.TrimSpace(step.returnID)
	if id == "" {
		return ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	actor := strings.TrimSpace(step.actor)
	if actor == "" {
		return ReturnRequest{}, fmt.Errorf("%w: actor is required", ErrReturnInvalidInput)
	}

	var updated ReturnRequest
	err := runInTx(ctx, s.unitOfWork, func(ctx context.Context) error {
		current, err := s.returns.FindByID(ctx, id)
		if err != nil {
			return mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
		}
		if !domain.CanTransitionReturn(current.Status, step.target) {
			return fmt.Errorf("%w: cannot move return %s from %s to %s", ErrReturnInvalidState, id, current.Status, step.target)
		}

		now := s.clock()
		next := current
		next.Items = append([]ReturnItem(nil), current.Items...)
		step.mutate(&next, actor, now)
		next.Status = step.target
		next.Version = current.Version + 1
		next.UpdatedAt = now

		if _, err := s.lifecycle.transitionForReturn(ctx, TransitionCommand{
			OrderID: current.OrderID,
			Status:  step.orderStatus,
			Actor:   actor,
			Note:    step.note,
		}, returnLink{returnID: current.ID, ensureRestored: step.ensureRestored}); err != nil {
			return err
		}
		if err := s.returns.Update(ctx, next, current.Version); err != nil {
			return mapRepositoryError(err, ErrReturnNotFound, ErrReturnConflict)
		}
		updated = next
		afterCommit(ctx, func(ctx context.Context) {
			s.emit(ctx, EventReturnStatusChange, next, current.Status, actor)
		})
		return nil
	})
	if err != nil {
		return ReturnRequest{}, err
	}
	return updated, nil
}

func (s *returnService) emit(ctx context.Context, eventType string, ret ReturnRequest, previous ReturnStatus, actor string) {
	s.metrics.ReturnPhaseChanged(ctx, string(ret.Status))
	s.logger(ctx, eventType, map[string]any{
		"returnId": ret.ID,
		"orderId":  ret.OrderID,
		"status":   string(ret.Status),
		"actor":    actor,
	})
	if s.events == nil {
		return
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        ret.OrderID,
		OrderNumber:    ret.OrderNumber,
		CustomerID:     ret.CustomerID,
		Status:         string(ret.Status),
		PreviousStatus: string(previous),
		ReturnID:       ret.ID,
		Actor:          actor,
		OccurredAt:     ret.UpdatedAt,
	})
	if err != nil {
		s.logger(ctx, "return.event_publish_failed", map[string]any{
			"returnId": ret.ID,
			"error":    err.Error(),
		})
	}
}

func appendAdminNote(ret *ReturnRequest, note string) {
	note = textutil.SanitizePlain(note, maxReturnAdminNoteRunes)
	if note == "" {
		return
	}
	if ret.AdminNotes == "" {
		ret.AdminNotes = note
		return
	}
	ret.AdminNotes += "\n" + note
}
