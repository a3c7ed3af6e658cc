// Package scheduler turns deadlines into messages. An armed timeout is a row
// in saga_timeouts plus an in-process timer; on expiry a *TimeoutExpired event
// is published to the saga exchange and consumed like any other inbound event,
// so ordering races are settled by the state machine's token guard, not here.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/craftwork-marketplace/internal/domain"
)

type Request struct {
	Kind          domain.TimeoutKind
	CorrelationID string
	BookingID     string
	PaymentID     string
	Delay         time.Duration
}

type Store interface {
	Insert(ctx context.Context, t *domain.PendingTimeout) error
	DeleteByToken(ctx context.Context, token string) error
	ListPending(ctx context.Context) ([]domain.PendingTimeout, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Scheduler struct {
	store  Store
	pub    Publisher
	logger *slog.Logger

	mu            sync.Mutex
	timers        map[string]*time.Timer // token -> timer
	byCorrelation map[string]string      // correlation id -> armed token
}

func New(store Store, pub Publisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:         store,
		pub:           pub,
		logger:        logger,
		timers:        map[string]*time.Timer{},
		byCorrelation: map[string]string{},
	}
}

// Arm schedules one deadline for the correlation id and returns its token.
// Any previously armed deadline for the same id is cancelled first: one
// outstanding timeout per instance.
func (s *Scheduler) Arm(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	prev := s.byCorrelation[req.CorrelationID]
	s.mu.Unlock()
	if prev != "" {
		if err := s.Cancel(ctx, prev); err != nil {
			return "", err
		}
	}

	token := uuid.NewString()
	row := &domain.PendingTimeout{
		Token:         token,
		CorrelationID: req.CorrelationID,
		Kind:          req.Kind,
		BookingID:     req.BookingID,
		PaymentID:     req.PaymentID,
		FireAt:        time.Now().UTC().Add(req.Delay),
	}
	if err := s.store.Insert(ctx, row); err != nil {
		return "", err
	}
	s.start(*row, req.Delay)
	s.logger.Info("timeout armed",
		"correlation_id", req.CorrelationID, "kind", req.Kind, "token", token, "delay", req.Delay)
	return token, nil
}

func (s *Scheduler) Cancel(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	s.mu.Lock()
	if t, ok := s.timers[token]; ok {
		t.Stop()
		delete(s.timers, token)
	}
	for cid, tok := range s.byCorrelation {
		if tok == token {
			delete(s.byCorrelation, cid)
		}
	}
	s.mu.Unlock()
	if err := s.store.DeleteByToken(ctx, token); err != nil {
		return err
	}
	s.logger.Info("timeout cancelled", "token", token)
	return nil
}

// Restore re-arms every persisted timeout after a restart. Past-due deadlines
// fire right away.
func (s *Scheduler) Restore(ctx context.Context) error {
	rows, err := s.store.ListPending(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, row := range rows {
		delay := row.FireAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		s.start(row, delay)
	}
	if len(rows) > 0 {
		s.logger.Info("timeouts restored", "count", len(rows))
	}
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, t := range s.timers {
		t.Stop()
		delete(s.timers, token)
	}
	s.byCorrelation = map[string]string{}
}

func (s *Scheduler) start(row domain.PendingTimeout, delay time.Duration) {
	s.mu.Lock()
	s.byCorrelation[row.CorrelationID] = row.Token
	s.timers[row.Token] = time.AfterFunc(delay, func() { s.fire(row) })
	s.mu.Unlock()
}

func (s *Scheduler) fire(row domain.PendingTimeout) {
	ctx := context.Background()

	var key string
	var payload any
	switch row.Kind {
	case domain.TimeoutConfirmation:
		key = domain.RKConfirmationTimeout
		payload = domain.ConfirmationTimeoutExpired{
			SagaID:    row.CorrelationID,
			BookingID: row.BookingID,
			Token:     row.Token,
		}
	default:
		key = domain.RKPaymentTimeout
		payload = domain.PaymentTimeoutExpired{
			SagaID:    row.CorrelationID,
			BookingID: row.BookingID,
			PaymentID: row.PaymentID,
			Token:     row.Token,
		}
	}

	if err := s.pub.PublishJSON(ctx, key, payload); err != nil {
		// the row stays; Restore will retry it on next boot
		s.logger.Error("publish timeout event", "token", row.Token, "err", err)
		return
	}

	s.mu.Lock()
	delete(s.timers, row.Token)
	if s.byCorrelation[row.CorrelationID] == row.Token {
		delete(s.byCorrelation, row.CorrelationID)
	}
	s.mu.Unlock()

	if err := s.store.DeleteByToken(ctx, row.Token); err != nil {
		// at-least-once is fine: a redelivered timeout fails the token guard
		s.logger.Warn("delete fired timeout", "token", row.Token, "err", err)
	}
	s.logger.Info("timeout fired", "correlation_id", row.CorrelationID, "kind", row.Kind, "token", row.Token)
}
