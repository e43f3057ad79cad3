package portal

import (
	"context"

	"github.com/BearBump/DeedBox/internal/models"
)

// DocumentRequest — один заказ для одной browser-сессии.
type DocumentRequest struct {
	OrderID     string
	Search      models.SearchInput
	ServiceType string
}

// Client operates the registry portal UI end-to-end for one order and returns
// the captured document, or a classified *Error. The portal has no API; the
// contract here is behavioral, so layout changes surface as failures, not
// design defects.
type Client interface {
	FetchDocument(ctx context.Context, req DocumentRequest) ([]byte, error)
}

// ServiceLabels maps a service type to the option label visible in the portal
// UI. Запрошенный тип без метки — фатальная ошибка, без ретраев.
var ServiceLabels = map[string]string{
	models.ServiceRegular:        "נסח רגיל",
	models.ServiceHistorical:     "נסח היסטורי",
	models.ServiceConcentrated:   "נסח מרוכז",
	models.ServiceByAddress:      "איתור לפי כתובת",
	models.ServicePropertyReport: "דוח עסקאות במקרקעין",
}
