package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/DeedBox/internal/broker/messages"
	"github.com/BearBump/DeedBox/internal/cache"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error)
	ScheduleRetry(ctx context.Context, orderID string) error
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

// CreateOrder валидирует ввод и фиксирует цену по типу услуги. Цена клиента
// не принимается ни в каком виде.
func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	o := &models.Order{
		ID:          uuid.NewString(),
		OwnerRef:    in.OwnerRef,
		Search:      in.Search,
		ServiceType: in.ServiceType,
		PriceAgorot: models.ServicePriceAgorot[in.ServiceType],
		Currency:    models.Currency,
		Email:       strings.TrimSpace(in.Email),
	}
	return s.repo.CreateOrder(ctx, o)
}

func validateInput(in models.OrderCreateInput) error {
	if !models.KnownService(in.ServiceType) {
		return errors.Wrapf(models.ErrValidation, "unknown service type %q", in.ServiceType)
	}

	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.Wrap(models.ErrValidation, "contact email is required")
	}

	sr := in.Search
	hasParcelFields := sr.Block != "" || sr.Parcel != "" || sr.Subparcel != ""
	hasAddressFields := sr.City != "" || sr.Street != "" || sr.HouseNo != ""

	switch {
	case hasParcelFields && hasAddressFields:
		return errors.Wrap(models.ErrValidation, "exactly one search mode must be populated, got both")
	case !hasParcelFields && !hasAddressFields:
		return errors.Wrap(models.ErrValidation, "exactly one search mode must be populated, got none")
	case hasParcelFields && !sr.ByParcel():
		return errors.Wrap(models.ErrValidation, "block and parcel are required for a parcel search")
	case hasAddressFields && !sr.ByAddress():
		return errors.Wrap(models.ErrValidation, "city, street and house number are required for an address search")
	}
	return nil
}

// GetOrder отдаёт текущее состояние заказа. Кэш best-effort: короткий TTL,
// промах или битая запись — читаем БД.
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, errors.Wrap(models.ErrValidation, "order id is required")
	}

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, o)
	return o, nil
}

func (s *Service) ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error) {
	if orderID == "" {
		return nil, errors.Wrap(models.ErrValidation, "order id is required")
	}
	return s.repo.ListAttempts(ctx, orderID, limit, offset)
}

// Retry — операторская ручка: разрешена только из FAILED, иначе Conflict.
func (s *Service) Retry(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.Wrap(models.ErrValidation, "order id is required")
	}
	if err := s.repo.ScheduleRetry(ctx, orderID); err != nil {
		return err
	}
	s.invalidateCurrent(ctx, orderID)
	return nil
}

// ApplyKafkaUpdate обрабатывает order.updated от воркера: освежает кэш
// текущего статуса и поднимает операторские алерты.
func (s *Service) ApplyKafkaUpdate(ctx context.Context, msg messages.OrderUpdated) error {
	if msg.OrderID == "" {
		return errors.New("order_id is required")
	}

	o, err := s.repo.GetOrder(ctx, msg.OrderID)
	if err != nil {
		return err
	}
	s.storeCurrent(ctx, o)

	if msg.Status == models.OrderStatusFailed {
		attrs := []any{"order_id", msg.OrderID, "attempt", msg.AttemptNo}
		if msg.FailCode != nil {
			attrs = append(attrs, "fail_code", *msg.FailCode)
		}
		if msg.Error != nil {
			attrs = append(attrs, "error", *msg.Error)
		}
		if msg.SuspectedLayoutChange {
			slog.Error("order failed, portal layout change suspected", attrs...)
		} else {
			slog.Warn("order failed", attrs...)
		}
	}
	return nil
}

func (s *Service) storeCurrent(ctx context.Context, o *models.Order) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(o)
	_ = s.cache.Set(ctx, currentKey(o.ID), b, s.currentTTL)
}

func (s *Service) invalidateCurrent(ctx context.Context, orderID string) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	// Перезаписываем свежим состоянием из БД; удаление нам не нужно.
	if o, err := s.repo.GetOrder(ctx, orderID); err == nil {
		s.storeCurrent(ctx, o)
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("order:%s:current", id)
}
