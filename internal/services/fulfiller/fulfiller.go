package fulfiller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/DeedBox/internal/broker/messages"
	"github.com/BearBump/DeedBox/internal/integrations/portal"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/storage/pgorders"
)

type Repository interface {
	ClaimDueOrders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error)
	Transition(ctx context.Context, id string, from []string, to string, f pgorders.TransitionFields) (*models.Order, error)
	StartAttempt(ctx context.Context, orderID string, attemptNo int32) (uint64, error)
	FinishAttempt(ctx context.Context, attemptID uint64, outcome, errText string) error
}

// Artifacts публикует снятый документ и возвращает публичный URL.
type Artifacts interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Notifier закрывает заказ письмами: клиенту про готовый документ,
// операторам про фатальный фейл.
type Notifier interface {
	NotifyCompletion(ctx context.Context, order *models.Order, documentURL string) bool
	AlertFailure(ctx context.Context, order *models.Order, code, errText string, layoutSuspect bool)
}

// Fulfiller забирает оплаченные заказы, прогоняет их через портал реестра
// и доводит до SENT либо FAILED.
type Fulfiller struct {
	repo      Repository
	portal    portal.Client
	artifacts Artifacts
	producer  Producer
	rl        RateLimiter
	notifier  Notifier

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64
	maxAutoAttempts    int32

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalCompleted      atomic.Int64
	totalFailed         atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, pc portal.Client, artifacts Artifacts, producer Producer, rl RateLimiter, notifier Notifier, topic string) *Fulfiller {
	return &Fulfiller{
		repo: repo, portal: pc, artifacts: artifacts, producer: producer, rl: rl, notifier: notifier, topic: topic,
		planner:            DefaultPlanner(),
		pollInterval:       5 * time.Second,
		batchSize:          20,
		concurrency:        4,
		lease:              180 * time.Second,
		rateLimitPerMinute: 30,
		maxAutoAttempts:    3,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (f *Fulfiller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64, maxAutoAttempts int32) *Fulfiller {
	if pollInterval > 0 {
		f.pollInterval = pollInterval
	}
	if batchSize > 0 {
		f.batchSize = batchSize
	}
	if concurrency > 0 {
		f.concurrency = concurrency
	}
	if lease > 0 {
		// Бюджет попытки = lease - 10s, поэтому lease короче 30s превращал
		// бы каждую попытку в мгновенный timeout.
		if lease < 30*time.Second {
			lease = 30 * time.Second
		}
		f.lease = lease
	}
	if rlPerMin > 0 {
		f.rateLimitPerMinute = rlPerMin
	}
	if maxAutoAttempts > 0 {
		f.maxAutoAttempts = maxAutoAttempts
	}
	return f
}

func (f *Fulfiller) WithPlanner(cfg PlannerConfig) *Fulfiller {
	f.planner = NewPlanner(cfg)
	return f
}

// Trigger forces an immediate claim cycle (best-effort, non-blocking).
func (f *Fulfiller) Trigger() {
	f.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case f.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalCompleted int64      `json:"totalCompleted"`
	TotalFailed    int64      `json:"totalFailed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (f *Fulfiller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, f.startedAtUnixNano).UTC(),
		TotalClaimed:   f.totalClaimed.Load(),
		TotalProcessed: f.totalProcessed.Load(),
		TotalCompleted: f.totalCompleted.Load(),
		TotalFailed:    f.totalFailed.Load(),
		TotalErrors:    f.totalErrors.Load(),
		InFlight:       f.inFlight.Load(),
	}
	if n := f.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := f.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	f.lastErrorMu.Lock()
	st.LastError = f.lastError
	f.lastErrorMu.Unlock()
	return st
}

func (f *Fulfiller) Run(ctx context.Context) error {
	t := time.NewTicker(f.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			f.runOnce(ctx)
		case <-f.triggerCh:
			f.runOnce(ctx)
		}
	}
}

func (f *Fulfiller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	f.lastCycleUnixNano.Store(now.UnixNano())

	orders, err := f.repo.ClaimDueOrders(ctx, now, f.batchSize, f.lease)
	if err != nil {
		slog.Error("claim due orders", "error", err.Error())
		f.setLastError(err)
		return
	}
	f.totalClaimed.Add(int64(len(orders)))

	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	for _, o := range orders {
		sem <- struct{}{}
		wg.Add(1)
		oCopy := o
		f.inFlight.Add(1)
		go func() {
			defer func() {
				f.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := f.processOne(ctx, oCopy); err != nil {
				f.totalErrors.Add(1)
				f.setLastError(err)
				slog.Error("process order", "order_id", oCopy.ID, "error", err.Error())
			}
			f.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (f *Fulfiller) setLastError(err error) {
	f.lastErrorMu.Lock()
	f.lastError = err.Error()
	f.lastErrorMu.Unlock()
}

// processOne доводит один заказ от PROCESSING до терминального исхода этой
// попытки. Заказ уже заклеймлен: lease выставлен, так что при падении
// процесса заказ вернётся в очередь сам.
func (f *Fulfiller) processOne(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()

	// attempt_count считает только неудачи на портале, поэтому клейм после
	// publish-error или протухшего lease бюджет не тратит.
	attemptNo := order.AttemptCount + 1

	if f.rl != nil && f.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:portal:%s", now.Format("200601021504"))
		allowed, n, err := f.rl.Allow(ctx, minuteKey, f.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Портал государственный, душить его нельзя: пропускаем цикл,
			// lease вернёт заказ в очередь.
			slog.Warn("portal rate limit exceeded", "order_id", order.ID, "count", n)
			return nil
		}
	}

	attemptID, err := f.repo.StartAttempt(ctx, order.ID, attemptNo)
	if err != nil {
		return errors.Wrap(err, "start attempt")
	}

	// Бюджет попытки всегда меньше lease, иначе второй воркер заберёт
	// заказ, пока первый ещё держит браузер.
	attemptCtx, cancel := context.WithTimeout(ctx, f.lease-10*time.Second)
	defer cancel()

	pdf, fetchErr := f.portal.FetchDocument(attemptCtx, portal.DocumentRequest{
		OrderID:     order.ID,
		Search:      order.Search,
		ServiceType: order.ServiceType,
	})

	if fetchErr != nil {
		return f.finishFailed(ctx, order, attemptID, attemptNo, fetchErr)
	}
	return f.finishFetched(ctx, order, attemptID, attemptNo, pdf)
}

// finishFetched публикует PDF и доводит заказ до COMPLETED/SENT.
func (f *Fulfiller) finishFetched(ctx context.Context, order *models.Order, attemptID uint64, attemptNo int32, pdf []byte) error {
	// Ключ детерминированный: повторная попытка перезаписывает тот же объект.
	key := fmt.Sprintf("extracts/%s.pdf", order.ID)
	url, err := f.artifacts.Put(ctx, key, pdf, "application/pdf")
	if err != nil {
		// Документ снят, упала только выгрузка: оставляем PROCESSING и
		// пробуем опубликовать ещё раз через короткий интервал.
		slog.Error("publish artifact", "order_id", order.ID, "error", err.Error())
		if ferr := f.repo.FinishAttempt(ctx, attemptID, models.AttemptOutcomePublishError, err.Error()); ferr != nil {
			slog.Error("finish attempt", "order_id", order.ID, "error", ferr.Error())
		}
		due := time.Now().UTC().Add(f.planner.PublishRetryDelay())
		errText := err.Error()
		if _, terr := f.repo.Transition(ctx, order.ID,
			[]string{models.OrderStatusProcessing}, models.OrderStatusProcessing,
			pgorders.TransitionFields{LastError: &errText, NextAttemptAt: &due}); terr != nil {
			return errors.Wrap(terr, "reschedule publish")
		}
		return err
	}

	updated, err := f.repo.Transition(ctx, order.ID,
		[]string{models.OrderStatusProcessing}, models.OrderStatusCompleted,
		pgorders.TransitionFields{DocumentURL: &url})
	if err != nil {
		return errors.Wrap(err, "mark completed")
	}
	f.totalCompleted.Add(1)

	if ferr := f.repo.FinishAttempt(ctx, attemptID, models.AttemptOutcomeOK, ""); ferr != nil {
		slog.Error("finish attempt", "order_id", order.ID, "error", ferr.Error())
	}

	status := updated.Status
	if f.notifier.NotifyCompletion(ctx, updated, url) {
		if sent, serr := f.repo.Transition(ctx, order.ID,
			[]string{models.OrderStatusCompleted}, models.OrderStatusSent,
			pgorders.TransitionFields{}); serr != nil {
			slog.Error("mark sent", "order_id", order.ID, "error", serr.Error())
		} else {
			status = sent.Status
		}
	}

	docURL := updated.DocumentURL
	if docURL == nil {
		docURL = &url
	}
	f.publishUpdate(ctx, messages.OrderUpdated{
		OrderID:     order.ID,
		Status:      status,
		AttemptNo:   attemptNo,
		CheckedAt:   time.Now().UTC(),
		DocumentURL: docURL,
	})

	slog.Info("order fulfilled", "order_id", order.ID, "attempt", attemptNo, "status", status)
	return nil
}

// finishFailed классифицирует сбой попытки и решает, будет ли автоматический
// повтор.
func (f *Fulfiller) finishFailed(ctx context.Context, order *models.Order, attemptID uint64, attemptNo int32, fetchErr error) error {
	code := portal.CodeOf(fetchErr)
	errText := fetchErr.Error()

	if ferr := f.repo.FinishAttempt(ctx, attemptID, string(code), errText); ferr != nil {
		slog.Error("finish attempt", "order_id", order.ID, "error", ferr.Error())
	}

	// Повторный element_not_found подряд: скорее всего портал сменил
	// вёрстку, ретраить бессмысленно, зовём операторов.
	layoutSuspect := code == portal.FailureElementNotFound &&
		order.FailCode != nil && *order.FailCode == models.AttemptOutcomeElementNotFound

	fatal := portal.Fatal(code) || layoutSuspect
	exhausted := !fatal && attemptNo >= f.maxAutoAttempts

	fields := pgorders.TransitionFields{
		FailCode:      strPtr(string(code)),
		LastError:     &errText,
		ChargeAttempt: true,
	}
	if !fatal && !exhausted {
		due := time.Now().UTC().Add(f.planner.BackoffDelay(attemptNo))
		fields.NextAttemptAt = &due
	}

	if _, terr := f.repo.Transition(ctx, order.ID,
		[]string{models.OrderStatusProcessing}, models.OrderStatusFailed, fields); terr != nil {
		return errors.Wrap(terr, "mark failed")
	}
	f.totalFailed.Add(1)

	if fatal || exhausted {
		f.notifier.AlertFailure(ctx, order, string(code), errText, layoutSuspect)
	}

	f.publishUpdate(ctx, messages.OrderUpdated{
		OrderID:               order.ID,
		Status:                models.OrderStatusFailed,
		AttemptNo:             attemptNo,
		CheckedAt:             time.Now().UTC(),
		FailCode:              strPtr(string(code)),
		Error:                 &errText,
		SuspectedLayoutChange: layoutSuspect,
	})

	slog.Warn("order attempt failed",
		"order_id", order.ID, "attempt", attemptNo,
		"code", string(code), "fatal", fatal || exhausted)
	return nil
}

func (f *Fulfiller) publishUpdate(ctx context.Context, msg messages.OrderUpdated) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal kafka msg", "order_id", msg.OrderID, "error", err.Error())
		return
	}

	// Kafka может быть не готова сразу после старта docker compose.
	// Для демо/устойчивости делаем небольшой retry.
	key := []byte(msg.OrderID)
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := f.producer.Publish(ctx, f.topic, key, b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	if pubErr != nil {
		slog.Error("publish order update", "order_id", msg.OrderID, "error", pubErr.Error())
	}
}

func strPtr(s string) *string { return &s }
