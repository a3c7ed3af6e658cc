package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound routing keys the saga consumes.
const (
	RKBookingRequested    = "booking.requested"
	RKBookingConfirmed    = "booking.confirmed"
	RKBookingCancelled    = "booking.cancelled"
	RKPaymentInitiated    = "payment.initiated"
	RKPaymentCompleted    = "payment.completed"
	RKPaymentFailed       = "payment.failed"
	RKPaymentTimeout      = "saga.payment.timeout"
	RKConfirmationTimeout = "saga.confirmation.timeout"
)

// Event is an inbound integration event routed to its saga instance by
// correlation id. For this saga the correlation id equals the booking id.
type Event interface {
	CorrelationID() string
}

type BookingRequested struct {
	BookingID          string `json:"booking_id"`
	CraftsmanID        string `json:"craftsman_id"`
	CustomerID         string `json:"customer_id"`
	Address            string `json:"address"`
	ServiceDescription string `json:"service_description"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
}

func (e BookingRequested) CorrelationID() string { return e.BookingID }

type PaymentInitiated struct {
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PayerID   string `json:"payer_id"`
}

func (e PaymentInitiated) CorrelationID() string { return e.BookingID }

type PaymentCompleted struct {
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PayerID   string `json:"payer_id"`
}

func (e PaymentCompleted) CorrelationID() string { return e.BookingID }

// PaymentFailed covers both a failed authorization and a settled refund
// during compensation; the current state disambiguates.
type PaymentFailed struct {
	PaymentID string `json:"payment_id"`
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
	PayerID   string `json:"payer_id"`
}

func (e PaymentFailed) CorrelationID() string { return e.BookingID }

type BookingConfirmed struct {
	BookingID   string    `json:"booking_id"`
	CustomerID  string    `json:"customer_id"`
	CraftsmanID string    `json:"craftsman_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (e BookingConfirmed) CorrelationID() string { return e.BookingID }

type BookingCancelled struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

func (e BookingCancelled) CorrelationID() string { return e.BookingID }

// Timeout expirations are first-class messages published by the scheduler;
// Token must match the instance's ActiveTimeoutToken to count.
type PaymentTimeoutExpired struct {
	SagaID    string `json:"correlation_id"`
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Token     string `json:"token"`
}

func (e PaymentTimeoutExpired) CorrelationID() string { return e.SagaID }

type ConfirmationTimeoutExpired struct {
	SagaID    string `json:"correlation_id"`
	BookingID string `json:"booking_id"`
	Token     string `json:"token"`
}

func (e ConfirmationTimeoutExpired) CorrelationID() string { return e.SagaID }

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
