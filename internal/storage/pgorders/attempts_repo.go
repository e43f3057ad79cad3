package pgorders

import (
	"context"
	"time"

	"github.com/BearBump/DeedBox/internal/models"
	"github.com/pkg/errors"
)

func (s *Storage) StartAttempt(ctx context.Context, orderID string, attemptNo int32) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO fulfillment_attempts (order_id, attempt_no, started_at)
VALUES ($1, $2, now())
RETURNING id
`, orderID, attemptNo).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert attempt")
	}
	return id, nil
}

func (s *Storage) FinishAttempt(ctx context.Context, attemptID uint64, outcome, errText string) error {
	_, err := s.db.Exec(ctx, `
UPDATE fulfillment_attempts SET finished_at = now(), outcome = $2, error = $3
WHERE id = $1
`, attemptID, outcome, errText)
	return errors.Wrap(err, "finish attempt")
}

func (s *Storage) ListAttempts(ctx context.Context, orderID string, limit, offset int) ([]*models.FulfillmentAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, attempt_no, started_at, finished_at, outcome, error
FROM fulfillment_attempts
WHERE order_id = $1
ORDER BY started_at DESC
LIMIT $2 OFFSET $3
`, orderID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select attempts")
	}
	defer rows.Close()

	var out []*models.FulfillmentAttempt
	for rows.Next() {
		var a models.FulfillmentAttempt
		var finished *time.Time
		if err := rows.Scan(&a.ID, &a.OrderID, &a.AttemptNo, &a.StartedAt, &finished, &a.Outcome, &a.Error); err != nil {
			return nil, errors.Wrap(err, "scan attempt")
		}
		a.FinishedAt = finished
		out = append(out, &a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
