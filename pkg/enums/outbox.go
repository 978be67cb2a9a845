package enums

// OutboxAggregateType maps to aggregate_type_enum.
type OutboxAggregateType string

const (
	AggregateOrder  OutboxAggregateType = "order"
	AggregateWallet OutboxAggregateType = "wallet"
)

// OutboxEventType maps to event_type_enum. Every value needs a descriptor in the event registry.
type OutboxEventType string

const (
	EventOrderReserved     OutboxEventType = "order_reserved"
	EventOrderCompleted    OutboxEventType = "order_completed"
	EventOrderFailed       OutboxEventType = "order_failed"
	EventSettlementAnomaly OutboxEventType = "settlement_anomaly"
	EventWalletRegistered  OutboxEventType = "wallet_registered"
)

// OutboxEventTypes lists every declared event type.
var OutboxEventTypes = []OutboxEventType{
	EventOrderReserved,
	EventOrderCompleted,
	EventOrderFailed,
	EventSettlementAnomaly,
	EventWalletRegistered,
}

// OutboxDLQErrorReason says why the relay stopped retrying a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts   OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable  OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUndeliverable OutboxDLQErrorReason = "undeliverable"
)
