package ordersapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/services/payments"
)

// OrdersService — операции над заказами со стороны клиента и оператора.
type OrdersService interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error)
	Retry(ctx context.Context, orderID string) error
}

// PaymentsService — checkout и сверка оплат.
type PaymentsService interface {
	CreateIntent(ctx context.Context, orderID string) (*payments.CheckoutResult, error)
	Reconcile(ctx context.Context, intentID string) (*models.Order, error)
}

type OrdersAPI struct {
	orders   OrdersService
	payments PaymentsService
}

func New(orders OrdersService, pay PaymentsService) *OrdersAPI {
	return &OrdersAPI{orders: orders, payments: pay}
}

// Routes монтирует публичный REST API сервиса.
func (a *OrdersAPI) Routes(r chi.Router) {
	r.Post("/api/orders", a.createOrder)
	r.Get("/api/orders/{id}", a.getOrder)
	r.Get("/api/orders/{id}/attempts", a.listAttempts)
	r.Post("/api/orders/{id}/checkout", a.checkout)
	r.Post("/api/orders/{id}/retry", a.retry)
	r.Post("/api/payments/{intentId}/reconcile", a.reconcile)
	r.Post("/api/payments/webhook", a.webhook)
}

type searchDTO struct {
	Block     string `json:"block,omitempty"`
	Parcel    string `json:"parcel,omitempty"`
	Subparcel string `json:"subparcel,omitempty"`
	City      string `json:"city,omitempty"`
	Street    string `json:"street,omitempty"`
	HouseNo   string `json:"house_no,omitempty"`
}

type createOrderRequest struct {
	OwnerRef    *string   `json:"owner_ref,omitempty"`
	Search      searchDTO `json:"search"`
	ServiceType string    `json:"service_type"`
	Email       string    `json:"email"`
}

type orderDTO struct {
	ID       string  `json:"id"`
	OwnerRef *string `json:"owner_ref,omitempty"`

	Search      searchDTO `json:"search"`
	ServiceType string    `json:"service_type"`

	PriceAgorot int64  `json:"price_agorot"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`

	DocumentURL *string `json:"document_url,omitempty"`

	// Классификация сбоя наружу не отдаётся: клиент видит только статус
	// failed, детали — в операторской выдаче /attempts.
	Status        string     `json:"status"`
	AttemptCount  int32      `json:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type attemptDTO struct {
	AttemptNo  int32      `json:"attempt_no"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func toOrderDTO(o *models.Order) orderDTO {
	return orderDTO{
		ID:       o.ID,
		OwnerRef: o.OwnerRef,
		Search: searchDTO{
			Block: o.Search.Block, Parcel: o.Search.Parcel, Subparcel: o.Search.Subparcel,
			City: o.Search.City, Street: o.Search.Street, HouseNo: o.Search.HouseNo,
		},
		ServiceType:   o.ServiceType,
		PriceAgorot:   o.PriceAgorot,
		Currency:      o.Currency,
		Email:         o.Email,
		DocumentURL:   o.DocumentURL,
		Status:        o.Status,
		AttemptCount:  o.AttemptCount,
		NextAttemptAt: o.NextAttemptAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (a *OrdersAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(models.ErrValidation, "invalid json body"))
		return
	}

	o, err := a.orders.CreateOrder(r.Context(), models.OrderCreateInput{
		OwnerRef: req.OwnerRef,
		Search: models.SearchInput{
			Block: req.Search.Block, Parcel: req.Search.Parcel, Subparcel: req.Search.Subparcel,
			City: req.Search.City, Street: req.Search.Street, HouseNo: req.Search.HouseNo,
		},
		ServiceType: req.ServiceType,
		Email:       req.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

func (a *OrdersAPI) listAttempts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := a.orders.ListAttempts(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]attemptDTO, 0, len(items))
	for _, at := range items {
		out = append(out, attemptDTO{
			AttemptNo:  at.AttemptNo,
			StartedAt:  at.StartedAt,
			FinishedAt: at.FinishedAt,
			Outcome:    at.Outcome,
			Error:      at.Error,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

func (a *OrdersAPI) checkout(w http.ResponseWriter, r *http.Request) {
	res, err := a.payments.CreateIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *OrdersAPI) retry(w http.ResponseWriter, r *http.Request) {
	if err := a.orders.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": true})
}

func (a *OrdersAPI) reconcile(w http.ResponseWriter, r *http.Request) {
	o, err := a.payments.Reconcile(r.Context(), chi.URLParam(r, "intentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// webhookEvent — минимальный разбор события провайдера; сверяем состояние
// самостоятельно, а не верим payload'у.
type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (a *OrdersAPI) webhook(w http.ResponseWriter, r *http.Request) {
	var ev webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, errors.Wrap(models.ErrValidation, "invalid webhook body"))
		return
	}

	if ev.Type != "payment_intent.succeeded" || ev.Data.Object.ID == "" {
		// чужие события подтверждаем, чтобы провайдер их не ретраил
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if _, err := a.payments.Reconcile(r.Context(), ev.Data.Object.ID); err != nil {
		// intent мог прийти раньше заказа: отвечаем 500, провайдер повторит
		if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrIntegrity) {
			writeError(w, err)
			return
		}
		slog.Error("webhook reconcile", "intent_id", ev.Data.Object.ID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconcile failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrIntegrity):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		slog.Error("internal error", "error", err.Error())
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
