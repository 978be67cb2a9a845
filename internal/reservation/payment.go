package reservation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/pkg/chain"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// Payment is the purchase proof for one rail. Exactly one of Crypto or Card is set, matching Method.
type Payment struct {
	Method enums.PaymentMethod
	Crypto *CryptoPayment
	Card   *CardPayment
}

// CryptoPayment describes an on-chain transfer the buyer has already broadcast.
type CryptoPayment struct {
	BuyerWalletAddress string
	TxHash             string
	AmountPaidCrypto   string
	ChainID            *int64
}

// CardPayment references a PaymentIntent created through CreateCardIntent.
type CardPayment struct {
	PaymentIntentID string
}

type normalizedPayment struct {
	method       enums.PaymentMethod
	buyerWallet  string
	txHash       string
	amountCrypto decimal.Decimal
	chainID      int64
	intentID     string
}

func (p Payment) normalize(defaultChainID int64) (*normalizedPayment, error) {
	switch p.Method {
	case enums.PaymentMethodCrypto:
		if p.Crypto == nil || p.Card != nil {
			return nil, invalidPayment("paymentMethod", "crypto payments require only crypto fields")
		}
		wallet, err := chain.NormalizeAddress(p.Crypto.BuyerWalletAddress)
		if err != nil {
			return nil, invalidPayment("buyerWalletAddress", err.Error())
		}
		hash, err := chain.NormalizeTxHash(p.Crypto.TxHash)
		if err != nil {
			return nil, invalidPayment("txHash", err.Error())
		}
		amount, err := chain.ParseEther(p.Crypto.AmountPaidCrypto)
		if err != nil {
			return nil, invalidPayment("amountPaidCrypto", err.Error())
		}
		chainID := defaultChainID
		if p.Crypto.ChainID != nil {
			if *p.Crypto.ChainID != defaultChainID {
				return nil, invalidPayment("chainId", "unsupported chain")
			}
			chainID = *p.Crypto.ChainID
		}
		return &normalizedPayment{
			method:       enums.PaymentMethodCrypto,
			buyerWallet:  wallet,
			txHash:       hash,
			amountCrypto: amount,
			chainID:      chainID,
		}, nil
	case enums.PaymentMethodCard:
		if p.Card == nil || p.Crypto != nil {
			return nil, invalidPayment("paymentMethod", "card payments require only card fields")
		}
		intentID := strings.TrimSpace(p.Card.PaymentIntentID)
		if !strings.HasPrefix(intentID, "pi_") || len(intentID) < 4 {
			return nil, invalidPayment("paymentIntentId", "must be a stripe payment intent id")
		}
		return &normalizedPayment{method: enums.PaymentMethodCard, intentID: intentID}, nil
	default:
		return nil, invalidPayment("paymentMethod", "must be card or crypto")
	}
}

func invalidPayment(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(map[string]string{field: msg})
}
