package fulfiller

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/DeedBox/internal/broker/messages"
	"github.com/BearBump/DeedBox/internal/integrations/portal"
	"github.com/BearBump/DeedBox/internal/models"
	"github.com/BearBump/DeedBox/internal/storage/pgorders"
)

type fakeRepo struct {
	orders map[string]*models.Order

	startedAttempts  []int32
	finishedOutcomes []string
	transitions      []string
}

func newFakeRepo(orders ...*models.Order) *fakeRepo {
	r := &fakeRepo{orders: map[string]*models.Order{}}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeRepo) ClaimDueOrders(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if o.Status == models.OrderStatusPaid || o.Status == models.OrderStatusFailed {
			o.Status = models.OrderStatusProcessing
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) Transition(ctx context.Context, id string, from []string, to string, f pgorders.TransitionFields) (*models.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, models.ErrConflict
	}
	o.Status = to
	if f.DocumentURL != nil && o.DocumentURL == nil {
		o.DocumentURL = f.DocumentURL
	}
	o.FailCode = f.FailCode
	o.LastError = f.LastError
	o.NextAttemptAt = f.NextAttemptAt
	if f.ChargeAttempt {
		o.AttemptCount++
	}
	r.transitions = append(r.transitions, to)
	cp := *o
	return &cp, nil
}

func (r *fakeRepo) StartAttempt(ctx context.Context, orderID string, attemptNo int32) (uint64, error) {
	r.startedAttempts = append(r.startedAttempts, attemptNo)
	return uint64(len(r.startedAttempts)), nil
}

func (r *fakeRepo) FinishAttempt(ctx context.Context, attemptID uint64, outcome, errText string) error {
	r.finishedOutcomes = append(r.finishedOutcomes, outcome)
	return nil
}

type fakePortal struct {
	pdf []byte
	err error
}

func (p fakePortal) FetchDocument(ctx context.Context, req portal.DocumentRequest) ([]byte, error) {
	return p.pdf, p.err
}

type fakeArtifacts struct {
	key string
	err error
}

func (a *fakeArtifacts) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	a.key = key
	if a.err != nil {
		return "", a.err
	}
	return "https://cdn.test/" + key, nil
}

type fakeProducer struct {
	topic  string
	values [][]byte
	err    error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.values = append(p.values, value)
	return nil
}

type fakeRL struct {
	allowed bool
}

func (r fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	return r.allowed, 1, nil
}

type fakeNotifier struct {
	delivered  bool
	completion int
	alerts     int
	lastLayout bool
}

func (n *fakeNotifier) NotifyCompletion(ctx context.Context, order *models.Order, documentURL string) bool {
	n.completion++
	return n.delivered
}

func (n *fakeNotifier) AlertFailure(ctx context.Context, order *models.Order, code, errText string, layoutSuspect bool) {
	n.alerts++
	n.lastLayout = layoutSuspect
}

func claimedOrder(priorFailures int32) *models.Order {
	return &models.Order{
		ID:           "o1",
		Search:       models.SearchInput{Block: "6941", Parcel: "198"},
		ServiceType:  models.ServiceHistorical,
		Email:        "customer@example.test",
		Status:       models.OrderStatusProcessing,
		AttemptCount: priorFailures,
	}
}

func lastUpdate(t *testing.T, fp *fakeProducer) messages.OrderUpdated {
	t.Helper()
	require.NotEmpty(t, fp.values)
	var msg messages.OrderUpdated
	require.NoError(t, json.Unmarshal(fp.values[len(fp.values)-1], &msg))
	return msg
}

func TestProcessOne_SuccessGoesToSent(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	art := &fakeArtifacts{}
	fp := &fakeProducer{}
	notif := &fakeNotifier{delivered: true}

	f := New(repo, fakePortal{pdf: []byte("%PDF-1.4")}, art, fp, fakeRL{allowed: true}, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	require.Equal(t, models.OrderStatusSent, repo.orders["o1"].Status)
	require.NotNil(t, repo.orders["o1"].DocumentURL)
	require.Equal(t, "extracts/o1.pdf", art.key)
	require.Equal(t, []string{models.AttemptOutcomeOK}, repo.finishedOutcomes)
	require.Equal(t, 1, notif.completion)

	msg := lastUpdate(t, fp)
	require.Equal(t, "order.updated", fp.topic)
	require.Equal(t, models.OrderStatusSent, msg.Status)
	require.NotNil(t, msg.DocumentURL)
}

func TestProcessOne_MailFailureKeepsCompleted(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	fp := &fakeProducer{}
	notif := &fakeNotifier{delivered: false}

	f := New(repo, fakePortal{pdf: []byte("%PDF-1.4")}, &fakeArtifacts{}, fp, nil, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	// письмо не ушло: документ опубликован, заказ остаётся COMPLETED
	require.Equal(t, models.OrderStatusCompleted, repo.orders["o1"].Status)
	require.Equal(t, models.OrderStatusCompleted, lastUpdate(t, fp).Status)
}

func TestProcessOne_TimeoutSchedulesBackoff(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	fp := &fakeProducer{}
	notif := &fakeNotifier{}

	f := New(repo, fakePortal{err: portal.NewError(portal.FailureTimeout, "ready state", nil)},
		&fakeArtifacts{}, fp, nil, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	got := repo.orders["o1"]
	require.Equal(t, models.OrderStatusFailed, got.Status)
	require.Equal(t, "timeout", *got.FailCode)
	require.Equal(t, int32(1), got.AttemptCount)
	require.NotNil(t, got.NextAttemptAt, "retryable failure must stay scheduled")
	require.Equal(t, []string{models.AttemptOutcomeTimeout}, repo.finishedOutcomes)
	require.Zero(t, notif.alerts)

	msg := lastUpdate(t, fp)
	require.Equal(t, models.OrderStatusFailed, msg.Status)
	require.False(t, msg.SuspectedLayoutChange)
}

func TestProcessOne_ValidationRejectedIsFatal(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	fp := &fakeProducer{}
	notif := &fakeNotifier{}

	f := New(repo, fakePortal{err: portal.NewError(portal.FailureValidationRejected, "property not found", nil)},
		&fakeArtifacts{}, fp, nil, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	got := repo.orders["o1"]
	require.Equal(t, models.OrderStatusFailed, got.Status)
	require.Nil(t, got.NextAttemptAt, "fatal failure must not be rescheduled")
	require.Equal(t, 1, notif.alerts)
	require.False(t, notif.lastLayout)
}

func TestProcessOne_RepeatedElementNotFoundSuspectsLayout(t *testing.T) {
	order := claimedOrder(1)
	prev := models.AttemptOutcomeElementNotFound
	order.FailCode = &prev
	repo := newFakeRepo(order)
	fp := &fakeProducer{}
	notif := &fakeNotifier{}

	f := New(repo, fakePortal{err: portal.NewError(portal.FailureElementNotFound, "#generateBtn", nil)},
		&fakeArtifacts{}, fp, nil, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	require.Nil(t, repo.orders["o1"].NextAttemptAt)
	require.Equal(t, 1, notif.alerts)
	require.True(t, notif.lastLayout)
	require.True(t, lastUpdate(t, fp).SuspectedLayoutChange)
}

func TestProcessOne_AttemptsExhausted(t *testing.T) {
	// две неудачи уже были, эта — третья и последняя автоматическая
	order := claimedOrder(2)
	repo := newFakeRepo(order)
	notif := &fakeNotifier{}

	f := New(repo, fakePortal{err: portal.NewError(portal.FailureTimeout, "ready state", nil)},
		&fakeArtifacts{}, &fakeProducer{}, nil, notif, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	require.Nil(t, repo.orders["o1"].NextAttemptAt)
	require.Equal(t, int32(3), repo.orders["o1"].AttemptCount)
	require.Equal(t, 1, notif.alerts)
}

func TestProcessOne_PublishFailureStaysProcessing(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	notif := &fakeNotifier{}

	f := New(repo, fakePortal{pdf: []byte("%PDF-1.4")},
		&fakeArtifacts{err: errors.New("gcs unavailable")}, &fakeProducer{}, nil, notif, "order.updated")
	require.Error(t, f.processOne(context.Background(), order))

	got := repo.orders["o1"]
	require.Equal(t, models.OrderStatusProcessing, got.Status)
	require.NotNil(t, got.NextAttemptAt)
	require.Zero(t, got.AttemptCount)
	require.Equal(t, []string{models.AttemptOutcomePublishError}, repo.finishedOutcomes)
	require.Zero(t, notif.completion)
}

func TestProcessOne_PublishRetriesDoNotConsumeBudget(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)
	notif := &fakeNotifier{}

	// хранилище лежит два цикла подряд: документ снимается, выгрузка падает
	broken := New(repo, fakePortal{pdf: []byte("%PDF-1.4")},
		&fakeArtifacts{err: errors.New("gcs unavailable")}, &fakeProducer{}, nil, notif, "order.updated")
	require.Error(t, broken.processOne(context.Background(), order))
	require.Error(t, broken.processOne(context.Background(), repo.orders["o1"]))
	require.Zero(t, repo.orders["o1"].AttemptCount)

	// первая настоящая неудача на портале остаётся первой: backoff, не парковка
	timedOut := New(repo, fakePortal{err: portal.NewError(portal.FailureTimeout, "ready state", nil)},
		&fakeArtifacts{}, &fakeProducer{}, nil, notif, "order.updated")
	require.NoError(t, timedOut.processOne(context.Background(), repo.orders["o1"]))

	got := repo.orders["o1"]
	require.Equal(t, models.OrderStatusFailed, got.Status)
	require.Equal(t, int32(1), got.AttemptCount)
	require.NotNil(t, got.NextAttemptAt, "first portal failure must stay retryable")
	require.Zero(t, notif.alerts)
}

func TestProcessOne_RateLimitedSkips(t *testing.T) {
	order := claimedOrder(0)
	repo := newFakeRepo(order)

	f := New(repo, fakePortal{pdf: []byte("%PDF-1.4")}, &fakeArtifacts{},
		&fakeProducer{}, fakeRL{allowed: false}, &fakeNotifier{}, "order.updated")
	require.NoError(t, f.processOne(context.Background(), order))

	// цикл пропущен: заказ остался PROCESSING, попытка не записана и не оплачена
	require.Equal(t, models.OrderStatusProcessing, repo.orders["o1"].Status)
	require.Zero(t, repo.orders["o1"].AttemptCount)
	require.Empty(t, repo.startedAttempts)
}

func TestWithSettings(t *testing.T) {
	f := New(nil, fakePortal{}, nil, nil, nil, nil, "t").
		WithSettings(5*time.Second, 7, 9, 120*time.Second, 13, 4)
	require.Equal(t, 5*time.Second, f.pollInterval)
	require.Equal(t, 7, f.batchSize)
	require.Equal(t, 9, f.concurrency)
	require.Equal(t, 120*time.Second, f.lease)
	require.Equal(t, int64(13), f.rateLimitPerMinute)
	require.Equal(t, int32(4), f.maxAutoAttempts)
}

func TestWithSettings_ClampsShortLease(t *testing.T) {
	// lease меньше бюджета попытки превращал бы каждый вызов портала
	// в мгновенный timeout
	f := New(nil, fakePortal{}, nil, nil, nil, nil, "t").
		WithSettings(0, 0, 0, 5*time.Second, 0, 0)
	require.Equal(t, 30*time.Second, f.lease)
}
