package enums

// SettlementResult is the outcome a confirmation source reports for an order.
type SettlementResult string

const (
	SettlementConfirmed SettlementResult = "confirmed"
	SettlementRejected  SettlementResult = "rejected"
)

func (r SettlementResult) IsValid() bool {
	return member(r, SettlementConfirmed, SettlementRejected)
}

// AnomalyKind classifies confirmations that indicate a correctness bug upstream.
type AnomalyKind string

const (
	AnomalyAmountMismatch    AnomalyKind = "amount_mismatch"
	AnomalyRecipientMismatch AnomalyKind = "recipient_mismatch"
	AnomalyOversell          AnomalyKind = "oversell"
	// AnomalyIntentMismatch means a PaymentIntent's metadata names a different item or buyer than its order.
	AnomalyIntentMismatch AnomalyKind = "intent_mismatch"
)

// FailureReason is the internal reason stored on a failed order.
type FailureReason string

const (
	FailureReasonDeclined          FailureReason = "declined"
	FailureReasonCanceled          FailureReason = "canceled"
	FailureReasonExpired           FailureReason = "expired"
	FailureReasonAmountMismatch    FailureReason = "amount_mismatch"
	FailureReasonRecipientMismatch FailureReason = "recipient_mismatch"
	FailureReasonOversell          FailureReason = "oversell"
	FailureReasonIntentMismatch    FailureReason = "intent_mismatch"
	FailureReasonSimulated         FailureReason = "simulated"
)
