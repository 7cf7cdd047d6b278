package repositories

import (
	domain "github.com/hanko-field/orders/internal/domain"
)

// OrderSearchFields returns the free-text fields indexed for order search: the order number,
// customer name and email, and every line item name.
func OrderSearchFields(order domain.Order) []string {
	fields := make([]string, 0, 3+len(order.Items))
	fields = append(fields, order.OrderNumber, order.CustomerName, order.CustomerEmail)
	for _, item := range order.Items {
		fields = append(fields, item.Name)
	}
	return fields
}
