package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeOrderReserved  NotificationType = "order_reserved"
	NotificationTypeOrderCompleted NotificationType = "order_completed"
	NotificationTypeOrderFailed    NotificationType = "order_failed"
)
