package domain

import "time"

// State is the position of one booking-to-payment workflow.
type State string

const (
	StateInitial                       State = "INITIAL"
	StateWaitingForPaymentInitiation   State = "WAITING_PAYMENT_INITIATION"
	StateWaitingForPaymentCompletion   State = "WAITING_PAYMENT_COMPLETION"
	StateWaitingForBookingConfirmation State = "WAITING_BOOKING_CONFIRMATION"
	StateWaitingForNotification        State = "WAITING_NOTIFICATION"
	StateCompensatingBooking           State = "COMPENSATING_BOOKING"
	StateCompensatingPayment           State = "COMPENSATING_PAYMENT"
	StateFinal                         State = "FINAL"
)

// SagaInstance is one row per workflow, keyed by correlation id (= booking id).
// The row is deleted when the saga reaches StateFinal.
type SagaInstance struct {
	CorrelationID string `gorm:"primaryKey"`
	State         State  `gorm:"index;type:varchar(40)"`

	// captured at creation, immutable afterwards
	BookingID          string `gorm:"index"`
	CraftsmanID        string
	CustomerID         string
	ServiceDescription string
	Amount             int64
	Currency           string

	PaymentID          string `gorm:"index"`
	PaymentInitiatedAt *time.Time

	// FailureReason is write-once: the first compensation cause sticks.
	FailureReason          string
	ConfirmationRetryCount int

	// ActiveTimeoutToken identifies the single armed timeout; a timeout
	// message carrying any other token is stale.
	ActiveTimeoutToken string `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SagaInstance) TableName() string { return "saga_instances" }

type TimeoutKind string

const (
	TimeoutPayment      TimeoutKind = "payment"
	TimeoutConfirmation TimeoutKind = "confirmation"
)

// PendingTimeout is a scheduled "fire a message later", persisted so armed
// deadlines survive a process restart.
type PendingTimeout struct {
	Token         string      `gorm:"primaryKey"`
	CorrelationID string      `gorm:"index"`
	Kind          TimeoutKind `gorm:"type:varchar(20)"`
	BookingID     string
	PaymentID     string
	FireAt        time.Time `gorm:"index"`
	CreatedAt     time.Time
}

func (PendingTimeout) TableName() string { return "saga_timeouts" }
