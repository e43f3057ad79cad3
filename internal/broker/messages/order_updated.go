package messages

import "time"

// OrderUpdated публикуется воркером после каждой попытки фулфилмента.
// deed-api по нему обновляет кэш текущего статуса и поднимает алерты.
type OrderUpdated struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	AttemptNo int32     `json:"attempt_no"`
	CheckedAt time.Time `json:"checked_at"`

	DocumentURL *string `json:"document_url,omitempty"`

	FailCode *string `json:"fail_code,omitempty"`
	Error    *string `json:"error,omitempty"`

	// Повторный element_not_found: похоже на смену вёрстки портала,
	// алертим операторов отдельно от обычного сбоя.
	SuspectedLayoutChange bool `json:"suspected_layout_change,omitempty"`
}
