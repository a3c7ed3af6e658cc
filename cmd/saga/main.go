package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/you/craftwork-marketplace/internal/consumer"
	"github.com/you/craftwork-marketplace/internal/machine"
	"github.com/you/craftwork-marketplace/internal/repository"
	"github.com/you/craftwork-marketplace/internal/scheduler"
	"github.com/you/craftwork-marketplace/internal/service"
	"github.com/you/craftwork-marketplace/pkg/config"
	"github.com/you/craftwork-marketplace/pkg/db"
	"github.com/you/craftwork-marketplace/pkg/mq"
	"github.com/you/craftwork-marketplace/pkg/obs"
)

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatal(err)
	}
	return v
}

func main() {
	_ = godotenv.Load(".env")
	cfg := must(config.Load())

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer := obs.InitTracer("saga-orchestrator")

	// DB
	gdb := db.Open(cfg.PGSagaDSN)
	sagaRepo := repository.NewSagaRepo(gdb)
	must(0, sagaRepo.Migrate())
	timeoutRepo := repository.NewTimeoutRepo(gdb)

	// Publisher: commands and timeout messages go out on the saga exchange
	pub := must(mq.NewPublisher(cfg.RabbitURL, cfg.SagaExchange))
	defer pub.Close()

	sched := scheduler.New(timeoutRepo, pub, logger)
	defer sched.Stop()

	m := machine.Machine{
		PaymentTimeout:      cfg.PaymentTimeout,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	}
	coord := service.NewCoordinator(sagaRepo, pub, sched, m, logger)

	cons := must(mq.NewConsumer(mq.ConsumerConfig{
		URL:       cfg.RabbitURL,
		Exchanges: []string{cfg.BookingExchange, cfg.PaymentExchange, cfg.SagaExchange},
		Queue:     cfg.SagaQueue,
		Bindings:  consumer.Bindings(),
		Prefetch:  cfg.Prefetch,
		UseDLX:    cfg.UseDLX,
		DLXName:   cfg.DLXName,
		DLXQueue:  cfg.DLXQueue,
		Name:      "saga-orchestrator",
	}))
	defer cons.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// re-arm deadlines persisted before the last shutdown
	must(0, sched.Restore(ctx))

	ec := consumer.NewEventConsumer(cons, coord, logger)
	go func() {
		if err := ec.Run(ctx); err != nil {
			log.Fatal(err)
		}
	}()
	logger.Info("saga orchestrator started", "queue", cfg.SagaQueue)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	cancel()
	_ = shutdownTracer(context.Background())
	logger.Info("saga orchestrator stopped")
}
