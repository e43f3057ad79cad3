package stripeapi

import (
	"context"
	"strings"

	"github.com/BearBump/DeedBox/internal/integrations/payment"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const metadataOrderID = "order_id"

type Client struct {
	sc *client.API
}

func New(apiKey string) *Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &Client{sc: sc}
}

func (c *Client) CreateIntent(ctx context.Context, order *models.Order) (payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:       stripe.Params{Context: ctx},
		Amount:       stripe.Int64(order.PriceAgorot),
		Currency:     stripe.String(strings.ToLower(order.Currency)),
		ReceiptEmail: stripe.String(order.Email),
	}
	params.AddMetadata(metadataOrderID, order.ID)

	pi, err := c.sc.PaymentIntents.New(params)
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "stripe create intent")
	}
	return toIntent(pi), nil
}

func (c *Client) GetIntent(ctx context.Context, id string) (payment.Intent, error) {
	pi, err := c.sc.PaymentIntents.Get(id, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return payment.Intent{}, errors.Wrapf(models.ErrNotFound, "payment intent %s", id)
		}
		return payment.Intent{}, errors.Wrap(err, "stripe get intent")
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) payment.Intent {
	return payment.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountAgorot: pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		OrderID:      pi.Metadata[metadataOrderID],
	}
}
