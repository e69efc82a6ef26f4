package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Method is the closed set of payment methods the orchestrator dispatches on.
// Adding a method is a compile-time change: every switch over Method must
// handle the new constant.
type Method int

const (
	// MethodCard covers generic card payments.
	MethodCard Method = iota
	// MethodDeferredBilling covers buy-now-pay-later style billing.
	MethodDeferredBilling
	// MethodProximityWallet covers device wallets presented over card networks.
	MethodProximityWallet
	// MethodAlternativeWallet covers the redirect-and-capture wallet provider.
	MethodAlternativeWallet
)

// ErrUnknownMethod is returned when a wire label does not map to a Method.
var ErrUnknownMethod = errors.New("payments: unknown method")

var methodLabels = map[Method]string{
	MethodCard:              "card",
	MethodDeferredBilling:   "deferred_billing",
	MethodProximityWallet:   "proximity_wallet",
	MethodAlternativeWallet: "alternative_wallet",
}

// String returns the canonical wire label for the method.
func (m Method) String() string {
	if label, ok := methodLabels[m]; ok {
		return label
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps a wire label onto the closed Method set.
func ParseMethod(label string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "card", "stripe":
		return MethodCard, nil
	case "deferred_billing", "affirm":
		return MethodDeferredBilling, nil
	case "proximity_wallet", "apple_pay":
		return MethodProximityWallet, nil
	case "alternative_wallet", "paypal":
		return MethodAlternativeWallet, nil
	default:
		return MethodCard, fmt.Errorf("%w: %q", ErrUnknownMethod, label)
	}
}

// IntentRequest captures the payload required to open a payment with a gateway.
// Amount is minor units in the given currency.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Method         Method
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the gateway-side handle for an in-progress payment.
type Intent struct {
	ID           string
	Provider     string
	Method       Method
	ClientSecret string
	ApproveURL   string
	Amount       int64
	Currency     string
	Status       string
}

// ConfirmRequest identifies the gateway payment to finalise.
type ConfirmRequest struct {
	IntentID       string
	Method         Method
	IdempotencyKey string
	Metadata       map[string]string
}

// Confirmation is the normalised result of a confirm/capture call. Amount is
// decimal major units regardless of how the provider represents money on the
// wire. Gateway failures arrive here as Succeeded=false with a message, never
// as an error.
type Confirmation struct {
	Succeeded     bool
	TransactionID string
	Status        string
	Amount        float64
	Currency      string
	Method        Method
	Message       string
	ConfirmedAt   time.Time
}

// Provider is the contract each gateway adapter implements.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error)
}

// zeroDecimalCurrencies are charged in whole units; their minor unit factor is 1.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnitFactor returns the number of minor units in one major unit.
func MinorUnitFactor(currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(strings.TrimSpace(currency))] {
		return 1
	}
	return 100
}

// MajorUnits converts a minor-unit amount into decimal major units.
func MajorUnits(amount int64, currency string) float64 {
	factor := MinorUnitFactor(currency)
	if factor == 1 {
		return float64(amount)
	}
	return float64(amount) / float64(factor)
}

// MinorUnits converts decimal major units back into minor units, rounding to
// the nearest representable amount.
func MinorUnits(amount float64, currency string) int64 {
	factor := MinorUnitFactor(currency)
	return int64(math.Round(amount * float64(factor)))
}

// FormatMajorUnits renders a minor-unit amount as the decimal string wallet
// providers expect on the wire (e.g. "12.34", "1200" for JPY).
func FormatMajorUnits(amount int64, currency string) string {
	factor := MinorUnitFactor(currency)
	if factor == 1 {
		return fmt.Sprintf("%d", amount)
	}
	return fmt.Sprintf("%d.%02d", amount/factor, amount%factor)
}
