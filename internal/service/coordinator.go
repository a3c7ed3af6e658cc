package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/you/craftwork-marketplace/internal/domain"
	"github.com/you/craftwork-marketplace/internal/machine"
	"github.com/you/craftwork-marketplace/internal/repository"
	"github.com/you/craftwork-marketplace/internal/scheduler"
)

type StateStore interface {
	Load(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
	Save(ctx context.Context, inst *domain.SagaInstance) error
	Delete(ctx context.Context, correlationID string) error
}

type CommandPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type TimeoutScheduler interface {
	Arm(ctx context.Context, req scheduler.Request) (string, error)
	Cancel(ctx context.Context, token string) error
}

// Coordinator drives one event through Load -> Decide -> side effects -> Save,
// holding a per-correlation-id lock for the whole unit so concurrent events
// for the same booking never act on divergent copies.
type Coordinator struct {
	store   StateStore
	pub     CommandPublisher
	sched   TimeoutScheduler
	machine machine.Machine
	logger  *slog.Logger
	locks   *keyedLocks
}

func NewCoordinator(store StateStore, pub CommandPublisher, sched TimeoutScheduler, m machine.Machine, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		pub:     pub,
		sched:   sched,
		machine: m,
		logger:  logger,
		locks:   newKeyedLocks(),
	}
}

// Handle applies one inbound event. A returned error means a transient
// store/publish failure: the caller should nack for redelivery; the guarded
// transitions make a re-apply safe. Stale and unroutable events return nil.
func (c *Coordinator) Handle(ctx context.Context, ev domain.Event) error {
	cid := ev.CorrelationID()
	if cid == "" {
		c.logger.Warn("event without correlation id", "event", fmt.Sprintf("%T", ev))
		return nil
	}

	c.locks.lock(cid)
	defer c.locks.unlock(cid)

	inst, err := c.store.Load(ctx, cid)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("load saga %s: %w", cid, err)
	}
	if inst == nil {
		if _, creates := ev.(domain.BookingRequested); !creates {
			// cannot compensate without the booking context
			c.logger.Warn("event for missing saga instance dropped",
				"correlation_id", cid, "event", fmt.Sprintf("%T", ev))
			return nil
		}
	}

	d := c.machine.Decide(inst, ev, time.Now())
	if d.Ignored {
		c.logger.Info("event ignored",
			"correlation_id", cid, "event", fmt.Sprintf("%T", ev), "reason", d.Reason)
		return nil
	}

	if d.CancelToken != "" {
		if err := c.sched.Cancel(ctx, d.CancelToken); err != nil {
			return fmt.Errorf("cancel timeout %s: %w", cid, err)
		}
	}
	if d.Arm != nil {
		token, err := c.sched.Arm(ctx, scheduler.Request{
			Kind:          d.Arm.Kind,
			CorrelationID: d.Arm.CorrelationID,
			BookingID:     d.Arm.BookingID,
			PaymentID:     d.Arm.PaymentID,
			Delay:         d.Arm.Delay,
		})
		if err != nil {
			return fmt.Errorf("arm timeout %s: %w", cid, err)
		}
		d.Instance.ActiveTimeoutToken = token
	}

	// commands go out before the save: a crash in between redelivers the event
	// and re-emits (at-least-once), never silently drops a command
	for _, cmd := range d.Commands {
		if err := c.pub.PublishJSON(ctx, cmd.RoutingKey(), cmd); err != nil {
			return fmt.Errorf("publish %s: %w", cmd.RoutingKey(), err)
		}
	}

	if d.Delete {
		if err := c.store.Delete(ctx, cid); err != nil {
			return fmt.Errorf("delete saga %s: %w", cid, err)
		}
		c.logger.Info("saga completed", "correlation_id", cid)
		return nil
	}

	if err := c.store.Save(ctx, d.Instance); err != nil {
		return fmt.Errorf("save saga %s: %w", cid, err)
	}
	c.logger.Info("saga advanced",
		"correlation_id", cid, "state", d.Instance.State, "event", fmt.Sprintf("%T", ev))
	return nil
}
