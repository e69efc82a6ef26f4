package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider serves the card, deferred-billing and proximity-wallet
// methods through the PaymentIntents API.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents}
	}

	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent creates a Stripe PaymentIntent with method-specific options.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	switch req.Method {
	case MethodCard:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	case MethodDeferredBilling:
		// Deferred billing runs the provider's own underwriting; no
		// 3-D-Secure request is attached.
		params.PaymentMethodTypes = stripe.StringSlice([]string{"affirm"})
	case MethodProximityWallet:
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
		params.PaymentMethodOptions = &stripe.PaymentIntentPaymentMethodOptionsParams{
			Card: &stripe.PaymentIntentPaymentMethodOptionsCardParams{
				RequestThreeDSecure: stripe.String("automatic"),
			},
		}
	case MethodAlternativeWallet:
		return Intent{}, fmt.Errorf("stripe: method %s is served by another provider", req.Method)
	default:
		return Intent{}, fmt.Errorf("stripe: unsupported method %s", req.Method)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if orderID := strings.TrimSpace(req.OrderID); orderID != "" {
		metadata["order_id"] = orderID
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"method":        req.Method.String(),
		"currency":      intent.Currency,
	})

	return Intent{
		ID:           intent.ID,
		Provider:     "stripe",
		Method:       req.Method,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		Status:       string(intent.Status),
	}, nil
}

// Confirm confirms a Stripe PaymentIntent and normalises the outcome.
func (p *StripeProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	if p == nil {
		return Confirmation{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.Confirm(req.IntentID, params)
	if err != nil {
		return Confirmation{}, fmt.Errorf("stripe: confirm payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})

	return p.confirmationFromIntent(intent, req.Method), nil
}

// confirmationFromIntent maps the provider-native intent onto the normalised
// result shape. Stripe reports minor units; Amount is converted to major units.
func (p *StripeProvider) confirmationFromIntent(intent *stripe.PaymentIntent, method Method) Confirmation {
	if intent == nil {
		return Confirmation{Status: "unknown", Method: method, ConfirmedAt: p.clock()}
	}

	currency := strings.ToUpper(string(intent.Currency))
	succeeded := intent.Status == stripe.PaymentIntentStatusSucceeded

	message := ""
	if !succeeded {
		message = fmt.Sprintf("payment intent is %s", intent.Status)
	}
	if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
		message = intent.LastPaymentError.Msg
	}

	confirmedAt := p.clock()
	if charge := intent.LatestCharge; charge != nil && charge.Created != 0 {
		confirmedAt = time.Unix(charge.Created, 0).UTC()
	}

	return Confirmation{
		Succeeded:     succeeded,
		TransactionID: intent.ID,
		Status:        string(intent.Status),
		Amount:        MajorUnits(intent.Amount, currency),
		Currency:      currency,
		Method:        method,
		Message:       message,
		ConfirmedAt:   confirmedAt,
	}
}
