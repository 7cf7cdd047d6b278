package handlers

import (
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID           string `json:"id"`
	OrderNumber  string `json:"order_number"`
	CustomerName string `json:"customer_name,omitempty"`
	Status       string `json:"status"`
	Total        int64  `json:"total"`
	ItemCount    int    `json:"item_count"`
	CreatedAt    string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	CustomerID      string                 `json:"customer_id"`
	CustomerName    string                 `json:"customer_name,omitempty"`
	CustomerEmail   string                 `json:"customer_email,omitempty"`
	Status          string                 `json:"status"`
	AllowedNext     []string               `json:"allowed_next_statuses,omitempty"`
	Totals          orderTotalsPayload     `json:"totals"`
	Promotion       *orderPromotionPayload `json:"promotion,omitempty"`
	Payment         orderPaymentPayload    `json:"payment"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress addressPayload         `json:"shipping_address"`
	Notes           string                 `json:"notes,omitempty"`
	History         []statusHistoryPayload `json:"status_history"`
	ReturnID        string                 `json:"return_id,omitempty"`
	StockRestored   bool                   `json:"stock_restored"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
	ConfirmedAt     string                 `json:"confirmed_at,omitempty"`
	ShippedAt       string                 `json:"shipped_at,omitempty"`
	DeliveredAt     string                 `json:"delivered_at,omitempty"`
	CancelledAt     string                 `json:"cancelled_at,omitempty"`
	ReturnedAt      string                 `json:"returned_at,omitempty"`
	RefundedAt      string                 `json:"refunded_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderPromotionPayload struct {
	Code           string  `json:"code"`
	Type           string  `json:"type"`
	Value          float64 `json:"value"`
	DiscountAmount int64   `json:"discount_amount"`
}

type orderPaymentPayload struct {
	Method string `json:"method"`
	Status string `json:"status"`
}

type orderItemPayload struct {
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku,omitempty"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type statusHistoryPayload struct {
	Status string `json:"status"`
	At     string `json:"at"`
	Actor  string `json:"actor,omitempty"`
	Note   string `json:"note,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	count := 0
	for _, item := range order.Items {
		count += item.Quantity
	}
	return orderSummaryPayload{
		ID:           order.ID,
		OrderNumber:  order.OrderNumber,
		CustomerName: order.CustomerName,
		Status:       string(order.Status),
		Total:        order.Totals.Total,
		ItemCount:    count,
		CreatedAt:    formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order, includeNext bool) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Shipping: order.Totals.Shipping,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Payment:         orderPaymentPayload{Method: order.Payment.Method, Status: order.Payment.Status},
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: addressPayload(order.ShippingAddress),
		Notes:           order.Notes,
		History:         make([]statusHistoryPayload, 0, len(order.StatusHistory)),
		ReturnID:        order.ReturnID,
		StockRestored:   order.StockRestored,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		ConfirmedAt:     formatTime(pointerTime(order.ConfirmedAt)),
		ShippedAt:       formatTime(pointerTime(order.ShippedAt)),
		DeliveredAt:     formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
		ReturnedAt:      formatTime(pointerTime(order.ReturnedAt)),
		RefundedAt:      formatTime(pointerTime(order.RefundedAt)),
	}
	if order.Promotion != nil {
		payload.Promotion = &orderPromotionPayload{
			Code:           strings.ToUpper(order.Promotion.Code),
			Type:           string(order.Promotion.Type),
			Value:          order.Promotion.Value,
			DiscountAmount: order.Promotion.DiscountAmount,
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:  item.ProductID,
			SKU:        item.SKU,
			Name:       item.Name,
			CategoryID: item.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.LineTotal,
		})
	}
	for _, entry := range order.StatusHistory {
		payload.History = append(payload.History, statusHistoryPayload{
			Status: string(entry.Status),
			At:     formatTime(entry.At),
			Actor:  entry.Actor,
			Note:   entry.Note,
		})
	}
	if includeNext {
		for _, next := range domain.AllowedNextStatuses(order.Status) {
			payload.AllowedNext = append(payload.AllowedNext, string(next))
		}
	}
	return payload
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnPayload struct {
	ID                string              `json:"id"`
	OrderID           string              `json:"order_id"`
	OrderNumber       string              `json:"order_number"`
	CustomerID        string              `json:"customer_id"`
	RequesterEmail    string              `json:"requester_email,omitempty"`
	Status            string              `json:"status"`
	Reason            string              `json:"reason"`
	Description       string              `json:"description,omitempty"`
	Items             []returnItemPayload `json:"items"`
	RefundAmount      int64               `json:"refund_amount"`
	RefundMethod      string              `json:"refund_method,omitempty"`
	RefundReference   string              `json:"refund_reference,omitempty"`
	RejectionReason   string              `json:"rejection_reason,omitempty"`
	PickupDate        string              `json:"pickup_date,omitempty"`
	PickupCarrier     string              `json:"pickup_carrier,omitempty"`
	AdminNotes        string              `json:"admin_notes,omitempty"`
	ApprovedBy        string              `json:"approved_by,omitempty"`
	RejectedBy        string              `json:"rejected_by,omitempty"`
	ReceivedBy        string              `json:"received_by,omitempty"`
	RefundedBy        string              `json:"refunded_by,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at,omitempty"`
	ApprovedAt        string              `json:"approved_at,omitempty"`
	RejectedAt        string              `json:"rejected_at,omitempty"`
	PickupScheduledAt string              `json:"pickup_scheduled_at,omitempty"`
	PickedUpAt        string              `json:"picked_up_at,omitempty"`
	ReceivedAt        string              `json:"received_at,omitempty"`
	RefundedAt        string              `json:"refunded_at,omitempty"`
}

type returnItemPayload struct {
	LineIndex     int    `json:"line_index"`
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	OrderedQty    int    `json:"ordered_quantity"`
	ReturnQty     int    `json:"return_quantity"`
	OriginalPrice int64  `json:"original_price"`
	Condition     string `json:"condition"`
	Reason        string `json:"reason,omitempty"`
}

// buildReturnPayload hides admin-only fields unless admin is set.
func buildReturnPayload(ret services.ReturnRequest, admin bool) returnPayload {
	payload := returnPayload{
		ID:                ret.ID,
		OrderID:           ret.OrderID,
		OrderNumber:       ret.OrderNumber,
		CustomerID:        ret.CustomerID,
		RequesterEmail:    ret.RequesterEmail,
		Status:            string(ret.Status),
		Reason:            ret.Reason,
		Description:       ret.Description,
		Items:             make([]returnItemPayload, 0, len(ret.Items)),
		RefundAmount:      ret.RefundAmount,
		RefundMethod:      ret.RefundMethod,
		RejectionReason:   ret.RejectionReason,
		PickupDate:        formatTime(pointerTime(ret.PickupDate)),
		PickupCarrier:     ret.PickupCarrier,
		CreatedAt:         formatTime(ret.CreatedAt),
		UpdatedAt:         formatTime(ret.UpdatedAt),
		ApprovedAt:        formatTime(pointerTime(ret.ApprovedAt)),
		RejectedAt:        formatTime(pointerTime(ret.RejectedAt)),
		PickupScheduledAt: formatTime(pointerTime(ret.PickupScheduledAt)),
		PickedUpAt:        formatTime(pointerTime(ret.PickedUpAt)),
		ReceivedAt:        formatTime(pointerTime(ret.ReceivedAt)),
		RefundedAt:        formatTime(pointerTime(ret.RefundedAt)),
	}
	for _, item := range ret.Items {
		payload.Items = append(payload.Items, returnItemPayload{
			LineIndex:     item.LineIndex,
			ProductID:     item.ProductID,
			Name:          item.Name,
			OrderedQty:    item.OrderedQty,
			ReturnQty:     item.ReturnQty,
			OriginalPrice: item.OriginalPrice,
			Condition:     string(item.Condition),
			Reason:        item.Reason,
		})
	}
	if admin {
		payload.RefundReference = ret.RefundReference
		payload.AdminNotes = ret.AdminNotes
		payload.ApprovedBy = ret.ApprovedBy
		payload.RejectedBy = ret.RejectedBy
		payload.ReceivedBy = ret.ReceivedBy
		payload.RefundedBy = ret.RefundedBy
	}
	return payload
}

type eligibilityPayload struct {
	Eligible      bool   `json:"eligible"`
	RemainingDays int    `json:"remaining_days"`
	DeliveredAt   string `json:"delivered_at,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type stockPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type promotionPayload struct {
	Code           string   `json:"code"`
	Description    string   `json:"description,omitempty"`
	Type           string   `json:"type"`
	Value          float64  `json:"value"`
	MinOrderAmount int64    `json:"min_order_amount"`
	MaxDiscount    *int64   `json:"max_discount,omitempty"`
	UsageLimit     int      `json:"usage_limit"`
	UsedCount      int      `json:"used_count"`
	Active         bool     `json:"active"`
	ValidFrom      string   `json:"valid_from,omitempty"`
	ValidUntil     string   `json:"valid_until,omitempty"`
	CategoryIDs    []string `json:"category_ids,omitempty"`
	ProductIDs     []string `json:"product_ids,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
}

func buildPromotionPayload(promo services.Promotion) promotionPayload {
	return promotionPayload{
		Code:           promo.Code,
		Description:    promo.Description,
		Type:           string(promo.Type),
		Value:          promo.Value,
		MinOrderAmount: promo.MinOrderAmount,
		MaxDiscount:    promo.MaxDiscount,
		UsageLimit:     promo.UsageLimit,
		UsedCount:      promo.UsedCount,
		Active:         promo.Active,
		ValidFrom:      formatTime(promo.ValidFrom),
		ValidUntil:     formatTime(promo.ValidUntil),
		CategoryIDs:    promo.CategoryIDs,
		ProductIDs:     promo.ProductIDs,
		CreatedAt:      formatTime(promo.CreatedAt),
		UpdatedAt:      formatTime(promo.UpdatedAt),
	}
}
