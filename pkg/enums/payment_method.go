package enums

// PaymentMethod discriminates the settlement rail an order is paid through.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodCrypto PaymentMethod = "crypto"
)

func (p PaymentMethod) String() string { return string(p) }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse("payment method", value, PaymentMethodCard, PaymentMethodCrypto)
}
