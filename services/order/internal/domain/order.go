package domain

import (
	"slices"
	"time"
)

// Order status constants.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Order is a placed customer order. TotalAmount is frozen at placement time
// and always equals the sum of its items' line totals.
type Order struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	Status      string      `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	PlacementID string      `json:"placement_id,omitempty"`
	Items       []OrderItem `json:"items"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status string) bool {
	return slices.Contains(ValidStatuses(), status)
}

// NewOrder builds a pending order from accepted line items.
func NewOrder(userID, placementID string, items []OrderItem) *Order {
	o := &Order{
		UserID:      userID,
		Status:      OrderStatusPending,
		PlacementID: placementID,
		Items:       items,
	}
	o.TotalAmount = o.ComputeTotal()
	return o
}

// ComputeTotal sums the line totals of the order's items.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for i := range o.Items {
		total += o.Items[i].LineTotal()
	}
	return total
}
