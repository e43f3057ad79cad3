package fake

import (
	"context"
	"fmt"

	"github.com/BearBump/DeedBox/internal/integrations/portal"
)

// FakeClient — локальная заглушка портала для dev-окружения без Chrome.
// Возвращает минимальный детерминированный PDF по заказу.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) FetchDocument(ctx context.Context, req portal.DocumentRequest) ([]byte, error) {
	if _, ok := portal.ServiceLabels[req.ServiceType]; !ok {
		return nil, portal.NewError(portal.FailureValidationRejected,
			fmt.Sprintf("no portal label for service type %q", req.ServiceType), nil)
	}
	// "9999" имитирует гуш, которого нет в реестре.
	if req.Search.Block == "9999" {
		return nil, portal.NewError(portal.FailureValidationRejected, "property not found", nil)
	}

	doc := fmt.Sprintf("%%PDF-1.4\n%% fake extract\n%% order %s service %s\n%%%%EOF\n",
		req.OrderID, req.ServiceType)
	return []byte(doc), nil
}
