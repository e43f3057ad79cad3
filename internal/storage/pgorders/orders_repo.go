package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, owner_ref,
  block, parcel, subparcel,
  city, street, house_no,
  service_type, price_agorot, currency, email,
  payment_intent_id, document_url,
  status, attempt_count, fail_code, last_error, next_attempt_at,
  created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	if err := row.Scan(
		&o.ID, &o.OwnerRef,
		&o.Search.Block, &o.Search.Parcel, &o.Search.Subparcel,
		&o.Search.City, &o.Search.Street, &o.Search.HouseNo,
		&o.ServiceType, &o.PriceAgorot, &o.Currency, &o.Email,
		&o.PaymentIntentID, &o.DocumentURL,
		&o.Status, &o.AttemptCount, &o.FailCode, &o.LastError, &o.NextAttemptAt,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(ctx, `
INSERT INTO orders (
  id, owner_ref,
  block, parcel, subparcel,
  city, street, house_no,
  service_type, price_agorot, currency, email,
  status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
RETURNING `+orderColumns+`
`, o.ID, o.OwnerRef,
		o.Search.Block, o.Search.Parcel, o.Search.Subparcel,
		o.Search.City, o.Search.Street, o.Search.HouseNo,
		o.ServiceType, o.PriceAgorot, o.Currency, o.Email,
		models.OrderStatusPending, now)

	out, err := scanOrder(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (s *Storage) GetOrderByIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_intent_id = $1`, intentID)
	o, err := scanOrder(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "order by intent %s", intentID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order by intent")
	}
	return o, nil
}

// SetPaymentIntent записывает correlation id на заказ, не меняя статус.
// Разрешено только пока заказ PENDING.
func (s *Storage) SetPaymentIntent(ctx context.Context, orderID, intentID string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders SET payment_intent_id = $2, updated_at = now()
WHERE id = $1 AND status = $3
`, orderID, intentID, models.OrderStatusPending)
	if err != nil {
		return errors.Wrap(err, "set payment intent")
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return errors.Wrapf(models.ErrConflict, "order %s is not pending", orderID)
	}
	return nil
}

type TransitionFields struct {
	// DocumentURL is applied through COALESCE: once set it is immutable.
	DocumentURL *string

	FailCode  *string
	LastError *string

	// NextAttemptAt is the due/lease clock; nil clears it (order no longer
	// claimable until someone makes it due again).
	NextAttemptAt *time.Time

	// ChargeAttempt увеличивает attempt_count. Счётчик считает только
	// реальные неудачные попытки на портале: клейм, publish-retry и
	// rate-limit бюджет не тратят.
	ChargeAttempt bool
}

// Transition — guarded compare-and-set: заказ переводится в to только если
// его текущий статус входит в from. Единственный примитив, которым пайплайн
// мутирует статус; проигравший гонку получает ErrConflict и перечитывает.
func (s *Storage) Transition(ctx context.Context, id string, from []string, to string, f TransitionFields) (*models.Order, error) {
	charge := 0
	if f.ChargeAttempt {
		charge = 1
	}

	row := s.db.QueryRow(ctx, `
UPDATE orders SET
  status = $3,
  document_url = COALESCE(document_url, $4),
  fail_code = $5,
  last_error = $6,
  next_attempt_at = $7,
  attempt_count = attempt_count + $8,
  updated_at = now()
WHERE id = $1 AND status = ANY($2)
RETURNING `+orderColumns+`
`, id, from, to, f.DocumentURL, f.FailCode, f.LastError, f.NextAttemptAt, charge)

	o, err := scanOrder(row)
	if err == pgx.ErrNoRows {
		cur, gerr := s.GetOrder(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, errors.Wrapf(models.ErrConflict, "order %s is %s, want one of %v", id, cur.Status, from)
	}
	if err != nil {
		return nil, errors.Wrap(err, "transition order")
	}
	return o, nil
}

// ClaimDueOrders выбирает пачку заказов, готовых к обработке, и "бронирует"
// их: статус CAS-ится в PROCESSING, а next_attempt_at сдвигается на lease
// вперёд, чтобы второй воркер их не подхватил. attempt_count клейм не трогает:
// бюджет тратится отдельно, через ChargeAttempt при неудаче на портале.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueOrders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	claimable := []string{models.OrderStatusPaid, models.OrderStatusFailed, models.OrderStatusProcessing}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE next_attempt_at IS NOT NULL
  AND next_attempt_at <= $1
  AND status = ANY($2)
ORDER BY next_attempt_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), claimable, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due orders")
	}

	var picked []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due order")
		}
		picked = append(picked, o)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, o := range picked {
		_, err := tx.Exec(ctx, `
UPDATE orders SET
  status = $2,
  next_attempt_at = $3,
  updated_at = now()
WHERE id = $1
`, o.ID, models.OrderStatusProcessing, leaseUntil)
		if err != nil {
			return nil, errors.Wrap(err, "claim order")
		}
		o.Status = models.OrderStatusProcessing
		t := leaseUntil
		o.NextAttemptAt = &t
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ScheduleRetry делает failed-заказ снова "due" для воркера. Для любого
// другого статуса — ErrConflict: нельзя перезапускать заказ, который ещё в
// работе или уже доставлен.
func (s *Storage) ScheduleRetry(ctx context.Context, orderID string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders SET next_attempt_at = now(), updated_at = now()
WHERE id = $1 AND status = $2
`, orderID, models.OrderStatusFailed)
	if err != nil {
		return errors.Wrap(err, "schedule retry")
	}
	if tag.RowsAffected() == 0 {
		cur, gerr := s.GetOrder(ctx, orderID)
		if gerr != nil {
			return gerr
		}
		return errors.Wrapf(models.ErrConflict, "order %s is %s, retry needs FAILED", orderID, cur.Status)
	}
	return nil
}
