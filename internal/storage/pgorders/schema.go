package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  owner_ref TEXT NULL,
  block TEXT NOT NULL DEFAULT '',
  parcel TEXT NOT NULL DEFAULT '',
  subparcel TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  street TEXT NOT NULL DEFAULT '',
  house_no TEXT NOT NULL DEFAULT '',
  service_type TEXT NOT NULL,
  price_agorot BIGINT NOT NULL,
  currency TEXT NOT NULL,
  email TEXT NOT NULL,
  payment_intent_id TEXT NULL,
  document_url TEXT NULL,
  status TEXT NOT NULL,
  attempt_count INT NOT NULL DEFAULT 0,
  fail_code TEXT NULL,
  last_error TEXT NULL,
  next_attempt_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_next_attempt_at ON orders(next_attempt_at) WHERE next_attempt_at IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_payment_intent_id ON orders(payment_intent_id) WHERE payment_intent_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS fulfillment_attempts (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  attempt_no INT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL,
  outcome TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_fulfillment_attempts_order_id ON fulfillment_attempts(order_id, started_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
