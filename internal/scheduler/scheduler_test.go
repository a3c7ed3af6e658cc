package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/craftwork-marketplace/internal/domain"
)

type memTimeoutStore struct {
	mu   sync.Mutex
	rows map[string]domain.PendingTimeout
}

func newMemTimeoutStore() *memTimeoutStore {
	return &memTimeoutStore{rows: map[string]domain.PendingTimeout{}}
}

func (s *memTimeoutStore) Insert(_ context.Context, t *domain.PendingTimeout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[t.Token] = *t
	return nil
}

func (s *memTimeoutStore) DeleteByToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, token)
	return nil
}

func (s *memTimeoutStore) ListPending(_ context.Context) ([]domain.PendingTimeout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingTimeout, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *memTimeoutStore) has(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[token]
	return ok
}

type published struct {
	key     string
	payload any
}

type capturePub struct {
	ch chan published
}

func newCapturePub() *capturePub {
	return &capturePub{ch: make(chan published, 16)}
}

func (p *capturePub) PublishJSON(_ context.Context, key string, v any) error {
	p.ch <- published{key: key, payload: v}
	return nil
}

func (p *capturePub) wait(t *testing.T, within time.Duration) published {
	t.Helper()
	select {
	case ev := <-p.ch:
		return ev
	case <-time.After(within):
		t.Fatal("no timeout event published")
		return published{}
	}
}

func (p *capturePub) quiet(t *testing.T, during time.Duration) {
	t.Helper()
	select {
	case ev := <-p.ch:
		t.Fatalf("unexpected publish: %s", ev.key)
	case <-time.After(during):
	}
}

func newScheduler() (*Scheduler, *memTimeoutStore, *capturePub) {
	store := newMemTimeoutStore()
	pub := newCapturePub()
	return New(store, pub, slog.Default()), store, pub
}

func TestArmFiresPaymentTimeoutEvent(t *testing.T) {
	s, store, pub := newScheduler()
	defer s.Stop()

	token, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutPayment,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		PaymentID:     "pay-7",
		Delay:         10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, store.has(token))

	got := pub.wait(t, time.Second)
	assert.Equal(t, domain.RKPaymentTimeout, got.key)
	ev, ok := got.payload.(domain.PaymentTimeoutExpired)
	require.True(t, ok)
	assert.Equal(t, "bk-1", ev.SagaID)
	assert.Equal(t, "pay-7", ev.PaymentID)
	assert.Equal(t, token, ev.Token)

	assert.Eventually(t, func() bool { return !store.has(token) }, time.Second, 5*time.Millisecond)
}

func TestArmFiresConfirmationTimeoutEvent(t *testing.T) {
	s, _, pub := newScheduler()
	defer s.Stop()

	token, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutConfirmation,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		Delay:         10 * time.Millisecond,
	})
	require.NoError(t, err)

	got := pub.wait(t, time.Second)
	assert.Equal(t, domain.RKConfirmationTimeout, got.key)
	ev, ok := got.payload.(domain.ConfirmationTimeoutExpired)
	require.True(t, ok)
	assert.Equal(t, token, ev.Token)
}

func TestCancelStopsTheDeadline(t *testing.T) {
	s, store, pub := newScheduler()
	defer s.Stop()

	token, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutPayment,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		Delay:         50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(context.Background(), token))

	assert.False(t, store.has(token))
	pub.quiet(t, 120*time.Millisecond)
}

func TestArmReplacesPreviousDeadline(t *testing.T) {
	s, store, pub := newScheduler()
	defer s.Stop()

	first, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutPayment,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		Delay:         time.Hour,
	})
	require.NoError(t, err)

	second, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutConfirmation,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		Delay:         10 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.False(t, store.has(first), "replaced deadline should be gone")
	got := pub.wait(t, time.Second)
	ev, ok := got.payload.(domain.ConfirmationTimeoutExpired)
	require.True(t, ok)
	assert.Equal(t, second, ev.Token)
}

func TestCancelUnknownTokenIsANoOp(t *testing.T) {
	s, _, _ := newScheduler()
	defer s.Stop()

	assert.NoError(t, s.Cancel(context.Background(), "never-armed"))
	assert.NoError(t, s.Cancel(context.Background(), ""))
}

func TestRestoreFiresPastDueDeadlines(t *testing.T) {
	store := newMemTimeoutStore()
	pub := newCapturePub()
	require.NoError(t, store.Insert(context.Background(), &domain.PendingTimeout{
		Token:         "tok-old",
		CorrelationID: "bk-1",
		Kind:          domain.TimeoutPayment,
		BookingID:     "bk-1",
		FireAt:        time.Now().UTC().Add(-time.Minute),
	}))

	s := New(store, pub, slog.Default())
	defer s.Stop()
	require.NoError(t, s.Restore(context.Background()))

	got := pub.wait(t, time.Second)
	ev, ok := got.payload.(domain.PaymentTimeoutExpired)
	require.True(t, ok)
	assert.Equal(t, "tok-old", ev.Token)
}

func TestStopSilencesPendingTimers(t *testing.T) {
	s, _, pub := newScheduler()

	_, err := s.Arm(context.Background(), Request{
		Kind:          domain.TimeoutPayment,
		CorrelationID: "bk-1",
		BookingID:     "bk-1",
		Delay:         30 * time.Millisecond,
	})
	require.NoError(t, err)
	s.Stop()

	pub.quiet(t, 100*time.Millisecond)
}
