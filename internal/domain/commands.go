package domain

// Outbound routing keys for commands to collaborator services.
const (
	RKInitiatePayment    = "payment.initiate"
	RKRefundPayment      = "payment.refund"
	RKConfirmBooking     = "booking.confirm"
	RKCancelBooking      = "booking.cancel"
	RKNotifyConfirmation = "notification.booking.confirmed"
)

// Command instructs a collaborator service to act. Delivery is fire-and-forget
// at-least-once; consumers are expected to be idempotent.
type Command interface {
	RoutingKey() string
}

type InitiatePayment struct {
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PayerID   string `json:"payer_id"`
}

func (InitiatePayment) RoutingKey() string { return RKInitiatePayment }

type ConfirmBooking struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
}

func (ConfirmBooking) RoutingKey() string { return RKConfirmBooking }

type CancelBooking struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

func (CancelBooking) RoutingKey() string { return RKCancelBooking }

type RefundPayment struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Reason    string `json:"reason"`
}

func (RefundPayment) RoutingKey() string { return RKRefundPayment }

type SendConfirmationNotification struct {
	BookingID          string `json:"booking_id"`
	CustomerID         string `json:"customer_id"`
	ServiceDescription string `json:"service_description"`
}

func (SendConfirmationNotification) RoutingKey() string { return RKNotifyConfirmation }
