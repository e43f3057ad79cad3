package payment

import (
	"context"

	"github.com/BearBump/DeedBox/internal/models"
)

// Intent — платёжная сессия у провайдера, связанная с заказом через
// metadata. Сумма и валюта нужны для integrity-проверки при reconcile.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountAgorot int64
	Currency     string
	OrderID      string
}

const StatusSucceeded = "succeeded"

type Client interface {
	CreateIntent(ctx context.Context, order *models.Order) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
}
