package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/DeedBox/internal/integrations/payment"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/storage/pgorders"
)

// Repository — срез хранилища заказов, нужный координатору платежей.
type Repository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error)
	SetPaymentIntent(ctx context.Context, orderID, intentID string) error
	Transition(ctx context.Context, id string, from []string, to string, f pgorders.TransitionFields) (*models.Order, error)
}

// Coordinator связывает заказы с платёжным провайдером: создаёт intent
// на checkout и переводит заказ в PAID после подтверждения оплаты.
type Coordinator struct {
	repo   Repository
	client payment.Client
}

func New(repo Repository, client payment.Client) *Coordinator {
	return &Coordinator{repo: repo, client: client}
}

// CheckoutResult возвращается клиенту для завершения оплаты на его стороне.
type CheckoutResult struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// CreateIntent создаёт платёжный intent для заказа в PENDING. Повторный
// вызов для того же заказа возвращает уже привязанный intent, а не плодит
// новые. Для заказов не в PENDING — Conflict.
func (c *Coordinator) CreateIntent(ctx context.Context, orderID string) (*CheckoutResult, error) {
	if orderID == "" {
		return nil, errors.Wrap(models.ErrValidation, "order id is required")
	}

	order, err := c.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}

	if order.PaymentIntentID != nil {
		intent, err := c.client.GetIntent(ctx, *order.PaymentIntentID)
		if err != nil {
			return nil, errors.Wrap(err, "get existing intent")
		}
		return &CheckoutResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
	}

	if order.Status != models.OrderStatusPending {
		return nil, errors.Wrapf(models.ErrConflict, "order %s is %s", order.ID, order.Status)
	}

	intent, err := c.client.CreateIntent(ctx, order)
	if err != nil {
		return nil, errors.Wrap(err, "create intent")
	}

	if err := c.repo.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		return nil, errors.Wrap(err, "bind intent to order")
	}

	slog.Info("payment intent created",
		"order_id", order.ID,
		"intent_id", intent.ID,
		"amount_agorot", order.PriceAgorot)

	return &CheckoutResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// Reconcile сверяет intent с провайдером и, если оплата прошла, переводит
// заказ PENDING→PAID и делает его due для воркера. Идемпотентен: для уже
// оплаченного заказа это no-op, гонка двух сверок разрешается через CAS.
func (c *Coordinator) Reconcile(ctx context.Context, intentID string) (*models.Order, error) {
	if intentID == "" {
		return nil, errors.Wrap(models.ErrValidation, "intent id is required")
	}

	intent, err := c.client.GetIntent(ctx, intentID)
	if err != nil {
		return nil, errors.Wrap(err, "get intent")
	}

	order, err := c.repo.GetOrderByIntentID(ctx, intentID)
	if err != nil {
		return nil, errors.Wrap(err, "get order by intent")
	}

	if intent.AmountAgorot != order.PriceAgorot || intent.Currency != order.Currency {
		return nil, errors.Wrapf(models.ErrIntegrity,
			"intent %s: charged %d %s, order %s expects %d %s",
			intent.ID, intent.AmountAgorot, intent.Currency,
			order.ID, order.PriceAgorot, order.Currency)
	}

	if intent.Status != payment.StatusSucceeded {
		slog.Info("intent not settled yet", "intent_id", intentID, "status", intent.Status)
		return order, nil
	}

	if order.Status != models.OrderStatusPending {
		return order, nil
	}

	due := time.Now().UTC()
	updated, err := c.repo.Transition(ctx, order.ID,
		[]string{models.OrderStatusPending}, models.OrderStatusPaid,
		pgorders.TransitionFields{NextAttemptAt: &due})
	if err != nil {
		// гонка с параллельной сверкой: заказ уже ушёл из PENDING
		if errors.Is(err, models.ErrConflict) {
			return c.repo.GetOrder(ctx, order.ID)
		}
		return nil, errors.Wrap(err, "mark order paid")
	}

	slog.Info("order paid", "order_id", updated.ID, "intent_id", intentID)
	return updated, nil
}
