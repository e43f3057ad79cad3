package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/BearBump/DeedBox/internal/integrations/payment"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FakeClient — in-memory платёжный провайдер для dev/тестов. Интент можно
// "оплатить" через MarkSucceeded.
type FakeClient struct {
	mu      sync.Mutex
	intents map[string]payment.Intent
}

func New() *FakeClient {
	return &FakeClient{intents: map[string]payment.Intent{}}
}

func (f *FakeClient) CreateIntent(ctx context.Context, order *models.Order) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in := payment.Intent{
		ID:           "pi_" + uuid.NewString(),
		ClientSecret: fmt.Sprintf("pi_secret_%s", uuid.NewString()),
		Status:       "requires_payment_method",
		AmountAgorot: order.PriceAgorot,
		Currency:     order.Currency,
		OrderID:      order.ID,
	}
	f.intents[in.ID] = in
	return in, nil
}

func (f *FakeClient) GetIntent(ctx context.Context, id string) (payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	in, ok := f.intents[id]
	if !ok {
		return payment.Intent{}, errors.Wrapf(models.ErrNotFound, "payment intent %s", id)
	}
	return in, nil
}

func (f *FakeClient) MarkSucceeded(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if in, ok := f.intents[id]; ok {
		in.Status = payment.StatusSucceeded
		f.intents[id] = in
	}
}
