package enums

import "strings"

// CardBrand is the snapshot of the network a card payment was made with.
type CardBrand string

const (
	CardBrandAmex       CardBrand = "amex"
	CardBrandDiners     CardBrand = "diners"
	CardBrandDiscover   CardBrand = "discover"
	CardBrandJCB        CardBrand = "jcb"
	CardBrandMastercard CardBrand = "mastercard"
	CardBrandUnionPay   CardBrand = "unionpay"
	CardBrandVisa       CardBrand = "visa"
	CardBrandUnknown    CardBrand = "unknown"
)

// NormalizeCardBrand maps provider brand strings onto CardBrand; anything unrecognised is unknown.
func NormalizeCardBrand(value string) CardBrand {
	brand := CardBrand(strings.ToLower(strings.TrimSpace(value)))
	if member(brand, CardBrandAmex, CardBrandDiners, CardBrandDiscover, CardBrandJCB,
		CardBrandMastercard, CardBrandUnionPay, CardBrandVisa) {
		return brand
	}
	return CardBrandUnknown
}
