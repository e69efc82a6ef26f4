package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultGatewayTimeout = 20 * time.Second

var (
	// ErrProviderNotConfigured indicates no adapter was registered for the method.
	ErrProviderNotConfigured = errors.New("payments: provider not configured")
	// ErrInvalidIntentRequest indicates the intent payload failed validation.
	ErrInvalidIntentRequest = errors.New("payments: invalid intent request")
)

// OrchestratorDeps wires the per-provider adapters behind the method dispatch.
type OrchestratorDeps struct {
	// CardGateway serves card, deferred-billing and proximity-wallet methods.
	CardGateway Provider
	// WalletGateway serves the alternative wallet's order/capture lifecycle.
	WalletGateway Provider
	// GatewayTimeout bounds each external call; defaults to 20s.
	GatewayTimeout time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// Orchestrator selects the adapter by method, drives intent creation and
// confirmation, and returns normalised results. Gateway failures never escape
// Confirm as errors.
type Orchestrator struct {
	card    Provider
	wallet  Provider
	timeout time.Duration
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewOrchestrator validates the adapter wiring and constructs an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.CardGateway == nil {
		return nil, errors.New("payments: card gateway is required")
	}
	if deps.WalletGateway == nil {
		return nil, errors.New("payments: wallet gateway is required")
	}

	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Orchestrator{
		card:    deps.CardGateway,
		wallet:  deps.WalletGateway,
		timeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// providerFor dispatches on the closed method set. The switch is exhaustive;
// an unmapped constant is a programming error surfaced at the call site.
func (o *Orchestrator) providerFor(method Method) (Provider, error) {
	switch method {
	case MethodCard, MethodDeferredBilling, MethodProximityWallet:
		return o.card, nil
	case MethodAlternativeWallet:
		return o.wallet, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, method)
	}
}

// CreateIntent opens a payment with the gateway serving the requested method.
func (o *Orchestrator) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: amount must be positive", ErrInvalidIntentRequest)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return Intent{}, fmt.Errorf("%w: currency is required", ErrInvalidIntentRequest)
	}

	provider, err := o.providerFor(req.Method)
	if err != nil {
		return Intent{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	intent, err := provider.CreateIntent(callCtx, req)
	if err != nil {
		o.logger(ctx, "payments.intent.create_failed", map[string]any{
			"method": req.Method.String(),
			"order":  req.OrderID,
			"error":  err.Error(),
		})
		return Intent{}, err
	}

	intent.Method = req.Method
	o.logger(ctx, "payments.intent.created", map[string]any{
		"method":   req.Method.String(),
		"intent":   intent.ID,
		"provider": intent.Provider,
	})
	return intent, nil
}

// Confirm finalises the payment behind the intent. Any adapter error
// (decline, validation, network, timeout) is converted into a failed
// Confirmation so the caller always receives a result.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) Confirmation {
	now := o.clock()

	provider, err := o.providerFor(req.Method)
	if err != nil {
		return o.failedConfirmation(req, now, err)
	}
	if strings.TrimSpace(req.IntentID) == "" {
		return o.failedConfirmation(req, now, errors.New("intent reference is required"))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	confirmation, err := provider.Confirm(callCtx, req)
	if err != nil {
		o.logger(ctx, "payments.confirm.failed", map[string]any{
			"method": req.Method.String(),
			"intent": req.IntentID,
			"error":  err.Error(),
		})
		if errors.Is(err, context.DeadlineExceeded) {
			return o.failedConfirmation(req, now, errors.New("gateway timed out; the confirmation may be retried"))
		}
		return o.failedConfirmation(req, now, err)
	}

	confirmation.Method = req.Method
	if confirmation.ConfirmedAt.IsZero() {
		confirmation.ConfirmedAt = now
	}
	o.logger(ctx, "payments.confirm.completed", map[string]any{
		"method":    req.Method.String(),
		"intent":    req.IntentID,
		"succeeded": confirmation.Succeeded,
		"status":    confirmation.Status,
	})
	return confirmation
}

func (o *Orchestrator) failedConfirmation(req ConfirmRequest, now time.Time, err error) Confirmation {
	return Confirmation{
		Succeeded:     false,
		TransactionID: req.IntentID,
		Status:        "error",
		Method:        req.Method,
		Message:       err.Error(),
		ConfirmedAt:   now,
	}
}
