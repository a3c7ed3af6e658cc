// Package machine holds the guarded transition table of the booking-to-payment
// saga. Decide is a pure step: it inspects the loaded instance and one inbound
// event and returns what should happen; persistence, publishing and timer
// management belong to the caller.
package machine

import (
	"time"

	"github.com/you/craftwork-marketplace/internal/domain"
)

// TimeoutRequest asks the scheduler to arm one deadline for the instance,
// replacing whatever deadline was armed before.
type TimeoutRequest struct {
	Kind          domain.TimeoutKind
	CorrelationID string
	BookingID     string
	PaymentID     string
	Delay         time.Duration
}

// Decision is the outcome of applying one event to one instance.
type Decision struct {
	// Instance is the mutated instance to persist. Nil when the event was
	// ignored or the instance was deleted.
	Instance *domain.SagaInstance
	Commands []domain.Command
	Arm      *TimeoutRequest
	// CancelToken is a previously armed timeout token to cancel.
	CancelToken string
	// Delete removes the instance from the store (saga reached Final).
	Delete bool
	// Ignored marks a stale, duplicate or out-of-order event. Never an error.
	Ignored bool
	Reason  string
}

type Machine struct {
	PaymentTimeout      time.Duration
	ConfirmationTimeout time.Duration
}

// Decide applies one inbound event. inst is nil when no instance exists for
// the correlation id; only BookingRequested may create one. Every transition
// is guarded on the current state, so duplicates and reordered deliveries
// degrade to no-ops instead of corrupting the workflow.
func (m Machine) Decide(inst *domain.SagaInstance, ev domain.Event, now time.Time) Decision {
	switch e := ev.(type) {
	case domain.BookingRequested:
		return m.onBookingRequested(inst, e)
	case domain.PaymentInitiated:
		return m.onPaymentInitiated(inst, e, now)
	case domain.PaymentCompleted:
		return m.onPaymentCompleted(inst, e)
	case domain.PaymentFailed:
		return m.onPaymentFailed(inst, e)
	case domain.PaymentTimeoutExpired:
		return m.onPaymentTimeout(inst, e)
	case domain.BookingConfirmed:
		return m.onBookingConfirmed(inst, e)
	case domain.ConfirmationTimeoutExpired:
		return m.onConfirmationTimeout(inst, e)
	case domain.BookingCancelled:
		return m.onBookingCancelled(inst, e)
	default:
		return ignored("unhandled event type")
	}
}

func (m Machine) onBookingRequested(inst *domain.SagaInstance, e domain.BookingRequested) Decision {
	if inst != nil {
		// one non-final instance per booking id; a second request is a redelivery
		return ignored("instance already exists")
	}
	created := &domain.SagaInstance{
		CorrelationID:      e.BookingID,
		State:              domain.StateWaitingForPaymentInitiation,
		BookingID:          e.BookingID,
		CraftsmanID:        e.CraftsmanID,
		CustomerID:         e.CustomerID,
		ServiceDescription: e.ServiceDescription,
		Amount:             e.Amount,
		Currency:           e.Currency,
	}
	return Decision{
		Instance: created,
		Commands: []domain.Command{domain.InitiatePayment{
			BookingID: e.BookingID,
			Amount:    e.Amount,
			Currency:  e.Currency,
			PayerID:   e.CustomerID,
		}},
		Arm: &TimeoutRequest{
			Kind:          domain.TimeoutPayment,
			CorrelationID: e.BookingID,
			BookingID:     e.BookingID,
			Delay:         m.PaymentTimeout,
		},
	}
}

func (m Machine) onPaymentInitiated(inst *domain.SagaInstance, e domain.PaymentInitiated, now time.Time) Decision {
	if d, ok := guard(inst, domain.StateWaitingForPaymentInitiation); !ok {
		return d
	}
	// first PaymentInitiated wins; the guard already rejects later ones
	inst.PaymentID = e.PaymentID
	at := now.UTC()
	inst.PaymentInitiatedAt = &at
	inst.State = domain.StateWaitingForPaymentCompletion
	return Decision{Instance: inst}
}

func (m Machine) onPaymentCompleted(inst *domain.SagaInstance, e domain.PaymentCompleted) Decision {
	// a completion arriving after the payment timeout already fired must not
	// confirm the booking; the guard makes it a no-op
	if d, ok := guard(inst, domain.StateWaitingForPaymentCompletion); !ok {
		return d
	}
	inst.State = domain.StateWaitingForBookingConfirmation
	return Decision{
		Instance: inst,
		Commands: []domain.Command{domain.ConfirmBooking{
			BookingID: inst.BookingID,
			PaymentID: inst.PaymentID,
		}},
		// replaces the payment deadline
		Arm: &TimeoutRequest{
			Kind:          domain.TimeoutConfirmation,
			CorrelationID: inst.CorrelationID,
			BookingID:     inst.BookingID,
			PaymentID:     inst.PaymentID,
			Delay:         m.ConfirmationTimeout,
		},
	}
}

func (m Machine) onPaymentFailed(inst *domain.SagaInstance, e domain.PaymentFailed) Decision {
	if inst == nil {
		return ignored("no instance")
	}
	switch inst.State {
	case domain.StateWaitingForPaymentCompletion:
		setFailure(inst, e.Reason)
		return enterCompensatingBooking(inst)
	case domain.StateCompensatingPayment:
		// refund settled; same event shape as the original failure, the
		// state tells them apart. Chain into booking cancellation.
		return enterCompensatingBooking(inst)
	default:
		return ignored("payment failure in state " + string(inst.State))
	}
}

func (m Machine) onPaymentTimeout(inst *domain.SagaInstance, e domain.PaymentTimeoutExpired) Decision {
	if inst == nil {
		return ignored("no instance")
	}
	if e.Token != inst.ActiveTimeoutToken {
		return ignored("stale timeout token")
	}
	switch inst.State {
	case domain.StateWaitingForPaymentInitiation, domain.StateWaitingForPaymentCompletion:
		setFailure(inst, "payment timeout")
		inst.ActiveTimeoutToken = "" // already fired, nothing to cancel
		return enterCompensatingBooking(inst)
	default:
		return ignored("payment timeout in state " + string(inst.State))
	}
}

func (m Machine) onBookingConfirmed(inst *domain.SagaInstance, e domain.BookingConfirmed) Decision {
	if d, ok := guard(inst, domain.StateWaitingForBookingConfirmation); !ok {
		return d
	}
	cancel := inst.ActiveTimeoutToken
	inst.ActiveTimeoutToken = ""
	inst.State = domain.StateWaitingForNotification
	return Decision{
		Instance:    inst,
		CancelToken: cancel,
		Commands: []domain.Command{domain.SendConfirmationNotification{
			BookingID:          inst.BookingID,
			CustomerID:         inst.CustomerID,
			ServiceDescription: inst.ServiceDescription,
		}},
	}
}

func (m Machine) onConfirmationTimeout(inst *domain.SagaInstance, e domain.ConfirmationTimeoutExpired) Decision {
	if inst == nil {
		return ignored("no instance")
	}
	if e.Token != inst.ActiveTimeoutToken {
		return ignored("stale timeout token")
	}
	if inst.State != domain.StateWaitingForBookingConfirmation {
		return ignored("confirmation timeout in state " + string(inst.State))
	}
	inst.ConfirmationRetryCount++
	setFailure(inst, "Booking confirmation timeout")
	inst.ActiveTimeoutToken = ""
	inst.State = domain.StateCompensatingPayment
	return Decision{
		Instance: inst,
		Commands: []domain.Command{domain.RefundPayment{
			BookingID: inst.BookingID,
			PaymentID: inst.PaymentID,
			Reason:    inst.FailureReason,
		}},
	}
}

func (m Machine) onBookingCancelled(inst *domain.SagaInstance, e domain.BookingCancelled) Decision {
	if d, ok := guard(inst, domain.StateCompensatingBooking); !ok {
		return d
	}
	cancel := inst.ActiveTimeoutToken
	inst.ActiveTimeoutToken = ""
	inst.State = domain.StateFinal
	return Decision{CancelToken: cancel, Delete: true}
}

// enterCompensatingBooking moves the instance to CompensatingBooking and asks
// the booking service to cancel. One-way: no path leads back to a Waiting state.
func enterCompensatingBooking(inst *domain.SagaInstance) Decision {
	cancel := inst.ActiveTimeoutToken
	inst.ActiveTimeoutToken = ""
	inst.State = domain.StateCompensatingBooking
	return Decision{
		Instance:    inst,
		CancelToken: cancel,
		Commands: []domain.Command{domain.CancelBooking{
			BookingID: inst.BookingID,
			Reason:    inst.FailureReason,
		}},
	}
}

func setFailure(inst *domain.SagaInstance, reason string) {
	if inst.FailureReason == "" {
		inst.FailureReason = reason
	}
}

func guard(inst *domain.SagaInstance, want domain.State) (Decision, bool) {
	if inst == nil {
		return ignored("no instance"), false
	}
	if inst.State != want {
		return ignored("event expects " + string(want) + ", instance is " + string(inst.State)), false
	}
	return Decision{}, true
}

func ignored(reason string) Decision {
	return Decision{Ignored: true, Reason: reason}
}
