package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type App struct {
	// DB
	PGSagaDSN string `envconfig:"PG_SAGA_DSN" required:"true"`

	// RabbitMQ
	RabbitURL       string `envconfig:"RABBIT_URL" required:"true"`
	BookingExchange string `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	PaymentExchange string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	SagaExchange    string `envconfig:"SAGA_EXCHANGE" default:"saga.exchange"`
	SagaQueue       string `envconfig:"SAGA_QUEUE" default:"saga.booking-to-payment.q"`
	Prefetch        int    `envconfig:"SAGA_PREFETCH" default:"8"`
	UseDLX          bool   `envconfig:"SAGA_USE_DLX" default:"false"`
	DLXName         string `envconfig:"SAGA_DLX_NAME" default:"saga.dlx"`
	DLXQueue        string `envconfig:"SAGA_DLX_QUEUE" default:"saga.dlq"`

	// Saga deadlines
	PaymentTimeout      time.Duration `envconfig:"PAYMENT_TIMEOUT" default:"5m"`
	ConfirmationTimeout time.Duration `envconfig:"CONFIRMATION_TIMEOUT" default:"10m"`
}

func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
