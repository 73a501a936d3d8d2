package lib

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neuron-e/api-boukii-sub005/src/config"
	"github.com/neuron-e/api-boukii-sub005/src/models"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

var stripeClient *stripe.Client

func GetStripeClient() *stripe.Client {
	if stripeClient != nil {
		return stripeClient
	}
	sc := stripe.NewClient(config.Get().StripeSecretKey)
	stripeClient = sc
	return sc
}

func NewStripeClient(c *stripe.Client) {
	stripeClient = c
}

// ToMinorUnits converts an amount to the integer cents stripe expects.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// StripeGateway creates hosted checkout links and refunds on the school's
// connected account.
type StripeGateway struct{}

func (StripeGateway) CreatePaymentLink(ctx context.Context, school models.School, booking models.Booking, buyer models.Client, amount decimal.Decimal, returnURL string) (*string, error) {
	sc := GetStripeClient()
	bookingRef := fmt.Sprint(booking.ID)
	params := &stripe.CheckoutSessionCreateParams{
		SuccessURL:        stripe.String(returnURL),
		CancelURL:         stripe.String(returnURL),
		Mode:              stripe.String("payment"),
		ClientReferenceID: stripe.String(bookingRef),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(booking.Currency)),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s booking #%d", school.Name, booking.ID)),
					},
					UnitAmount: stripe.Int64(ToMinorUnits(amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"booking_id": bookingRef,
			"school_id":  fmt.Sprint(school.ID),
		},
	}
	if buyer.Email != "" {
		params.CustomerEmail = stripe.String(buyer.Email)
	}
	if school.StripeAccountID != nil {
		params.Params = stripe.Params{StripeAccount: school.StripeAccountID}
	}
	cs, err := sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		GetLogger().Error("Error creating checkout session", zap.Uint("booking", booking.ID), zap.Error(err))
		return nil, err
	}
	if cs.URL == "" {
		return nil, nil
	}
	return &cs.URL, nil
}

func (StripeGateway) Refund(ctx context.Context, booking models.Booking, amount decimal.Decimal, key string) (*string, error) {
	if booking.PaymentIntentID == nil {
		return nil, errors.New("booking has no card payment to refund")
	}
	sc := GetStripeClient()
	params := &stripe.RefundCreateParams{
		PaymentIntent: booking.PaymentIntentID,
		Amount:        stripe.Int64(ToMinorUnits(amount)),
		Metadata: map[string]string{
			"booking_id": fmt.Sprint(booking.ID),
		},
	}
	params.SetIdempotencyKey(key)
	r, err := sc.V1Refunds.Create(ctx, params)
	if err != nil {
		GetLogger().Error("Error creating refund", zap.Uint("booking", booking.ID), zap.Error(err))
		return nil, err
	}
	if r.ID == "" {
		return nil, nil
	}
	return &r.ID, nil
}
