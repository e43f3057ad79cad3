package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/services/orders"
)

type fakeRepo struct{}

func (r *fakeRepo) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	return o, nil
}
func (r *fakeRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return nil, models.ErrNotFound
}
func (r *fakeRepo) ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error) {
	return []*models.FulfillmentAttempt{}, nil
}
func (r *fakeRepo) ScheduleRetry(ctx context.Context, orderID string) error { return nil }

type fakeConsumer struct{}

func (c fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunDeedAPI_ServesSwaggerAndHealth(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc := orders.New(&fakeRepo{}, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := deedAPIOpts{
		httpAddr:      "127.0.0.1:0",
		swaggerPath:   sw,
		topic:         "t",
		consumerGroup: "g",
		onListen:      func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runDeedAPI(ctx, opts, svc, nil, fakeConsumer{})
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/swagger.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
	require.Contains(t, string(body), "\"swagger\"")

	resp, err = http.Get("http://" + httpAddr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// несуществующий заказ мапится в 404
	resp, err = http.Get("http://" + httpAddr + "/api/orders/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 404, resp.StatusCode)

	cancel()
	select {
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	case err := <-errCh:
		require.Error(t, err)
	}
}

func TestRunDeedAPI_RequiresSwagger(t *testing.T) {
	err := runDeedAPI(context.Background(), deedAPIOpts{httpAddr: "127.0.0.1:0"}, nil, nil, fakeConsumer{})
	require.Error(t, err)
}
