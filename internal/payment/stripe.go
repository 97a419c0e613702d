package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/openfridge/fridge/internal/fridge"
)

// intents is the slice of the PaymentIntents client this package uses.
type intents interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGateway struct {
	intents  intents
	currency string
}

func NewStripeGateway(secretKey string) *StripeGateway {
	sc := client.New(secretKey, nil)
	return &StripeGateway{intents: sc.PaymentIntents, currency: string(stripe.CurrencyUSD)}
}

func (g *StripeGateway) CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	if err := Validate(req); err != nil {
		return fridge.PaymentHandle{}, err
	}
	items, err := json.Marshal(Describe(req.Items))
	if err != nil {
		return fridge.PaymentHandle{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(fridge.Cents(req.Amount)),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("machineId", req.MachineID)
	params.AddMetadata("items", string(items))

	pi, err := g.intents.New(params)
	if err != nil {
		return fridge.PaymentHandle{}, fmt.Errorf("stripe create intent: %w", stripeErr(err))
	}
	return fridge.PaymentHandle{
		Method:       req.Method,
		ClientSecret: pi.ClientSecret,
		Reference:    pi.ID,
	}, nil
}

func (g *StripeGateway) Status(ctx context.Context, reference string) (PaymentStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(reference, params)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("stripe get intent: %w", stripeErr(err))
	}
	return PaymentStatus{
		Reference:   pi.ID,
		Status:      NormaliseStripe(pi.Status),
		AmountCents: pi.Amount,
		Provider:    string(pi.Status),
	}, nil
}

func NormaliseStripe(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	default:
		// requires_payment_method after a decline stays pending so the
		// customer can try another card on the same intent.
		return StatusPending
	}
}

func stripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return fmt.Errorf("%s: %w", se.Msg, err)
	}
	return err
}
