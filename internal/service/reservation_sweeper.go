package service

import (
	"context"
	"errors"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/repository"
	"github.com/JOMO418/furniture-hub-backend/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// ReservationSweeper cancels m-pesa orders whose payment never arrived within
// the reservation TTL, returning their reserved stock to the catalog. Cash
// and card orders keep their reservation until handled by staff.
type ReservationSweeper struct {
	logger    *zap.Logger
	orderRepo repository.OrderRepository
	orders    OrderService
	ttl       time.Duration
	interval  time.Duration
	tracer    trace.Tracer
}

func NewReservationSweeper(
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	orders OrderService,
	ttl time.Duration,
	interval time.Duration,
) *ReservationSweeper {
	return &ReservationSweeper{
		logger:    logger,
		orderRepo: orderRepo,
		orders:    orders,
		ttl:       ttl,
		interval:  interval,
		tracer:    otel.Tracer("reservation-sweeper"),
	}
}

func (w *ReservationSweeper) Start(ctx context.Context) {
	mylogger.Info(ctx, w.logger, "Starting reservation sweeper")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, w.logger, "Reservation sweeper stopping")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				mylogger.Error(
					ctx,
					w.logger,
					"Error sweeping expired reservations",
					zap.Error(err),
				)
			}
		}
	}
}

func (w *ReservationSweeper) sweep(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "ReservationSweeper.sweep")
	defer span.End()

	cutoff := time.Now().Add(-w.ttl)

	ids, err := w.orderRepo.ListExpiredPending(ctx, domain.PaymentMethodMpesa, cutoff, sweepBatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := w.orders.CancelExpired(ctx, id, "payment window expired")
		if err != nil {
			// A payment or a manual cancel can land between the listing and
			// the cancel. That order is simply no longer ours to sweep.
			if errors.Is(err, domain.ErrOrderNotCancellable) || errors.Is(err, domain.ErrOrderNotFound) {
				continue
			}

			mylogger.Error(
				ctx,
				w.logger,
				"Failed to cancel expired order",
				zap.Int64("order_id", id),
				zap.Error(err),
			)

			continue
		}

		mylogger.Info(
			ctx,
			w.logger,
			"Expired unpaid order cancelled",
			zap.Int64("order_id", id),
		)
	}

	return nil
}
