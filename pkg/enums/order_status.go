package enums

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	// Cancelled and refunded are written by manual remediation only.
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

func (s OrderStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition is permitted.
func (s OrderStatus) IsTerminal() bool {
	return s != OrderStatusPending
}

// Public collapses the stored status into the three values exposed to clients.
func (s OrderStatus) Public() OrderStatus {
	if member(s, OrderStatusPending, OrderStatusCompleted) {
		return s
	}
	return OrderStatusFailed
}
