package ordersapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/services/payments"
)

type fakeOrders struct {
	order    *models.Order
	err      error
	retryErr error
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func (f *fakeOrders) ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error) {
	return []*models.FulfillmentAttempt{{OrderID: orderID, AttemptNo: 1, Outcome: models.AttemptOutcomeOK}}, f.err
}

func (f *fakeOrders) Retry(ctx context.Context, orderID string) error {
	return f.retryErr
}

type fakePayments struct {
	res        *payments.CheckoutResult
	order      *models.Order
	err        error
	reconciled []string
}

func (f *fakePayments) CreateIntent(ctx context.Context, orderID string) (*payments.CheckoutResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakePayments) Reconcile(ctx context.Context, intentID string) (*models.Order, error) {
	f.reconciled = append(f.reconciled, intentID)
	if f.err != nil {
		return nil, f.err
	}
	return f.order, nil
}

func newServer(o OrdersService, p PaymentsService) *httptest.Server {
	r := chi.NewRouter()
	New(o, p).Routes(r)
	return httptest.NewServer(r)
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:          "o1",
		Search:      models.SearchInput{Block: "6941", Parcel: "198"},
		ServiceType: models.ServiceHistorical,
		PriceAgorot: 5900,
		Currency:    models.Currency,
		Email:       "customer@example.test",
		Status:      models.OrderStatusPending,
	}
}

func TestCreateOrder_Created(t *testing.T) {
	srv := newServer(&fakeOrders{order: sampleOrder()}, &fakePayments{})
	defer srv.Close()

	body := `{"search":{"block":"6941","parcel":"198"},"service_type":"historical","email":"customer@example.test"}`
	resp, err := http.Post(srv.URL+"/api/orders", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got orderDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "o1", got.ID)
	require.Equal(t, int64(5900), got.PriceAgorot)
	require.Equal(t, "PENDING", got.Status)
}

func TestCreateOrder_ValidationIs400(t *testing.T) {
	srv := newServer(&fakeOrders{err: models.ErrValidation}, &fakePayments{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/orders", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrder_NotFoundIs404(t *testing.T) {
	srv := newServer(&fakeOrders{err: models.ErrNotFound}, &fakePayments{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/orders/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrder_FailedHidesFailureDetail(t *testing.T) {
	failed := sampleOrder()
	failed.Status = models.OrderStatusFailed
	code := models.AttemptOutcomeTimeout
	msg := "portal did not respond"
	failed.FailCode = &code
	failed.LastError = &msg
	srv := newServer(&fakeOrders{order: failed}, &fakePayments{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/orders/o1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// клиент видит только статус; классификация сбоя остаётся оператору
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "FAILED", got["status"])
	require.NotContains(t, got, "fail_code")
	require.NotContains(t, got, "last_error")
}

func TestCheckout_ReturnsClientSecret(t *testing.T) {
	srv := newServer(&fakeOrders{}, &fakePayments{
		res: &payments.CheckoutResult{IntentID: "pi_1", ClientSecret: "pi_secret_1"},
	})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/orders/o1/checkout", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got payments.CheckoutResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, "pi_1", got.IntentID)
	require.Equal(t, "pi_secret_1", got.ClientSecret)
}

func TestRetry_ConflictIs409(t *testing.T) {
	srv := newServer(&fakeOrders{retryErr: models.ErrConflict}, &fakePayments{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/orders/o1/retry", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestReconcile_IntegrityIs422(t *testing.T) {
	srv := newServer(&fakeOrders{}, &fakePayments{err: models.ErrIntegrity})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/payments/pi_1/reconcile", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestWebhook_SucceededTriggersReconcile(t *testing.T) {
	paid := sampleOrder()
	paid.Status = models.OrderStatusPaid
	fp := &fakePayments{order: paid}
	srv := newServer(&fakeOrders{}, fp)
	defer srv.Close()

	body := `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_42"}}}`
	resp, err := http.Post(srv.URL+"/api/payments/webhook", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"pi_42"}, fp.reconciled)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	fp := &fakePayments{}
	srv := newServer(&fakeOrders{}, fp)
	defer srv.Close()

	body := `{"type":"payment_intent.created","data":{"object":{"id":"pi_42"}}}`
	resp, err := http.Post(srv.URL+"/api/payments/webhook", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, fp.reconciled)
}

func TestListAttempts(t *testing.T) {
	srv := newServer(&fakeOrders{}, &fakePayments{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/orders/o1/attempts?limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Attempts []attemptDTO `json:"attempts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Attempts, 1)
	require.Equal(t, "ok", got.Attempts[0].Outcome)
}
