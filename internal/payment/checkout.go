package payment

import (
	"context"
	"errors"

	dodopayments "github.com/dodopayments/dodopayments-go"
	"github.com/dodopayments/dodopayments-go/option"

	"sintgpt/internal/util"
)

// ErrNotConfigured means the provider API key or product ID is missing.
var ErrNotConfigured = errors.New("payment: payment system not configured")

// Checkout creates one-item checkout sessions with Dodo Payments.
type Checkout struct {
	client    *dodopayments.Client
	productID string
}

// NewCheckout builds a checkout client. testMode selects the provider's test
// environment; production uses live mode.
func NewCheckout(apiKey, productID string, testMode bool) (*Checkout, error) {
	if apiKey == "" || productID == "" {
		return nil, ErrNotConfigured
	}
	opts := []option.RequestOption{option.WithBearerToken(apiKey)}
	if testMode {
		opts = append(opts, option.WithEnvironmentTestMode())
	} else {
		opts = append(opts, option.WithEnvironmentLiveMode())
	}
	return &Checkout{client: dodopayments.NewClient(opts...), productID: productID}, nil
}

// CreateSession creates a checkout session for the single unlock product and
// returns the provider's redirect URL. The allowed payment method list does
// not include BNPL methods.
func (c *Checkout) CreateSession(ctx context.Context, baseURL string) (string, error) {
	util.LogInfo("Creating checkout session")

	session, err := c.client.CheckoutSessions.New(ctx, dodopayments.CheckoutSessionNewParams{
		CheckoutSessionRequest: dodopayments.CheckoutSessionRequestParam{
			ProductCart: dodopayments.F([]dodopayments.ProductItemReqParam{{
				ProductID: dodopayments.F(c.productID),
				Quantity:  dodopayments.F(int64(1)),
			}}),
			ReturnURL: dodopayments.F(baseURL + "/?payment=success"),
			AllowedPaymentMethodTypes: dodopayments.F([]dodopayments.PaymentMethodTypes{
				dodopayments.PaymentMethodTypesIdeal,
				dodopayments.PaymentMethodTypesCredit,
				dodopayments.PaymentMethodTypesDebit,
				dodopayments.PaymentMethodTypesPaypal,
				dodopayments.PaymentMethodTypesBancontactCard,
				dodopayments.PaymentMethodTypesApplePay,
				dodopayments.PaymentMethodTypesGooglePay,
			}),
		},
	})
	if err != nil {
		return "", err
	}

	util.LogInfo("Checkout session created: %s", session.CheckoutURL)
	return session.CheckoutURL, nil
}
