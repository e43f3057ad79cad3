package models

import "time"

// Статусы заказа. Вперёд двигаются только через guarded transition в pgorders.
const (
	OrderStatusPending    = "PENDING"
	OrderStatusPaid       = "PAID"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusCompleted  = "COMPLETED"
	OrderStatusSent       = "SENT"
	OrderStatusFailed     = "FAILED"
)

// Service types offered by the registry portal.
const (
	ServiceRegular        = "regular"
	ServiceHistorical     = "historical"
	ServiceConcentrated   = "concentrated"
	ServiceByAddress      = "by_address"
	ServicePropertyReport = "property_report"
)

const Currency = "ILS"

// Prices in agorot, fixed server-side at order creation. Client-supplied
// prices are never trusted.
var ServicePriceAgorot = map[string]int64{
	ServiceRegular:        3900,
	ServiceHistorical:     5900,
	ServiceConcentrated:   4900,
	ServiceByAddress:      6900,
	ServicePropertyReport: 9900,
}

// KnownService reports whether the service type is sellable.
func KnownService(serviceType string) bool {
	_, ok := ServicePriceAgorot[serviceType]
	return ok
}

// SearchInput — ровно один из двух режимов заполнен: гуш/хелка/тат-хелка
// либо город/улица/номер дома.
type SearchInput struct {
	Block     string
	Parcel    string
	Subparcel string

	City    string
	Street  string
	HouseNo string
}

func (s SearchInput) ByParcel() bool {
	return s.Block != "" && s.Parcel != ""
}

func (s SearchInput) ByAddress() bool {
	return s.City != "" && s.Street != "" && s.HouseNo != ""
}

type Order struct {
	ID       string
	OwnerRef *string

	Search      SearchInput
	ServiceType string

	PriceAgorot int64
	Currency    string
	Email       string

	PaymentIntentID *string
	DocumentURL     *string

	Status string

	// AttemptCount — сколько попыток на портале закончились неудачей.
	// Именно этот счётчик упирается в лимит автоматических повторов.
	AttemptCount  int32
	FailCode      *string
	LastError     *string
	NextAttemptAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type FulfillmentAttempt struct {
	ID         uint64
	OrderID    string
	AttemptNo  int32
	StartedAt  time.Time
	FinishedAt *time.Time
	Outcome    string
	Error      string
}

// Attempt outcomes.
const (
	AttemptOutcomeOK                 = "ok"
	AttemptOutcomeTimeout            = "timeout"
	AttemptOutcomeElementNotFound    = "element_not_found"
	AttemptOutcomeValidationRejected = "validation_rejected"
	AttemptOutcomeSessionError       = "session_error"
	AttemptOutcomePublishError       = "publish_error"
)

type OrderCreateInput struct {
	OwnerRef    *string
	Search      SearchInput
	ServiceType string
	Email       string
}
