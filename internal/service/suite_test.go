package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/JOMO418/furniture-hub-backend/internal/repository"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
	outboxRepository "github.com/JOMO418/furniture-hub-backend/pkg/outbox/repository"
	"github.com/JOMO418/furniture-hub-backend/pkg/testsuite"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const testTopic = "order_events"

// fakeGateway stands in for the Daraja API in service tests. Checkout ids are
// sequential so tests can reference individual pushes.
type fakeGateway struct {
	pushCount int
	pushErr   error
	queryRes  *mpesa.QueryResponse
	queryErr  error
}

func (f *fakeGateway) STKPush(_ context.Context, _ mpesa.PushRequest) (*mpesa.PushResponse, error) {
	if f.pushErr != nil {
		return nil, f.pushErr
	}

	f.pushCount++
	return &mpesa.PushResponse{
		MerchantRequestID: fmt.Sprintf("merchant-%d", f.pushCount),
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", f.pushCount),
		ResponseCode:      "0",
		ResponseDesc:      "Success. Request accepted for processing",
	}, nil
}

func (f *fakeGateway) QueryStatus(_ context.Context, _ string) (*mpesa.QueryResponse, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	return f.queryRes, nil
}

type ServiceSuite struct {
	testsuite.BaseSuite

	gateway     *fakeGateway
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	attemptRepo repository.PaymentAttemptRepository

	orders service.OrderService
	// payments enforces the pending window, paymentsNoWindow allows immediate
	// re-initiation so supersede paths can be exercised.
	payments         service.PaymentService
	paymentsNoWindow service.PaymentService
}

func (s *ServiceSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations", false)

	logger := zap.NewNop()
	s.gateway = &fakeGateway{}

	s.productRepo = repository.NewProductRepository(s.DbPool, logger)
	s.orderRepo = repository.NewOrderRepository(s.DbPool, logger)
	s.attemptRepo = repository.NewPaymentAttemptRepository(s.DbPool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(s.DbPool, logger)

	s.orders = service.NewOrderService(
		s.DbPool, logger, s.orderRepo, s.productRepo, outboxRepo, testTopic, 500,
	)
	s.payments = service.NewPaymentService(
		s.DbPool, logger, s.orderRepo, s.attemptRepo, outboxRepo, s.gateway, testTopic, 90*time.Second,
	)
	s.paymentsNoWindow = service.NewPaymentService(
		s.DbPool, logger, s.orderRepo, s.attemptRepo, outboxRepo, s.gateway, testTopic, 0,
	)
}

func (s *ServiceSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *ServiceSuite) SetupTest() {
	s.TruncateTable("orders")
	s.TruncateTable("products")
	s.TruncateTable("order_counters")
	s.TruncateTable("outbox")
	s.TruncateTable("processed_events")
	s.gateway.pushErr = nil
	s.gateway.queryRes = nil
	s.gateway.queryErr = nil
}

func (s *ServiceSuite) createProduct(name string, price, stock int64) int64 {
	var id int64
	err := s.DbPool.QueryRow(
		s.Ctx,
		`INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id`,
		name, price, stock,
	).Scan(&id)
	s.Require().NoError(err)

	return id
}

func (s *ServiceSuite) productStock(id int64) int64 {
	var stock int64
	err := s.DbPool.QueryRow(s.Ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&stock)
	s.Require().NoError(err)

	return stock
}

func (s *ServiceSuite) createOrder(method domain.PaymentMethod, items ...service.CreateOrderItem) *domain.Order {
	order, err := s.orders.CreateOrder(s.Ctx, &service.CreateOrderInput{
		UserID:          7,
		CustomerName:    "Wanjiku Kamau",
		CustomerEmail:   "wanjiku@example.com",
		CustomerPhone:   "0712345678",
		DeliveryAddress: "Kileleshwa, Nairobi",
		PaymentMethod:   method,
		Items:           items,
	})
	s.Require().NoError(err)

	return order
}

func (s *ServiceSuite) backdateOrder(orderID int64, age time.Duration) {
	_, err := s.DbPool.Exec(
		s.Ctx,
		`UPDATE orders SET created_at = NOW() - $2::interval WHERE id = $1`,
		orderID, fmt.Sprintf("%d seconds", int(age.Seconds())),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) outboxEventTypes() []string {
	rows, err := s.DbPool.Query(s.Ctx, `SELECT event_type FROM outbox ORDER BY id`)
	s.Require().NoError(err)
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		s.Require().NoError(rows.Scan(&t))
		types = append(types, t)
	}

	return types
}

func successOutcome(checkoutRequestID, receipt string, amount int64) domain.PaymentOutcome {
	paidAt := time.Now()
	return domain.PaymentOutcome{
		CheckoutRequestID: checkoutRequestID,
		Success:           true,
		ResultCode:        0,
		ResultDesc:        "The service request is processed successfully.",
		Receipt:           receipt,
		Amount:            &amount,
		Phone:             "254712345678",
		PaidAt:            &paidAt,
	}
}

func failureOutcome(checkoutRequestID string, code int, desc string) domain.PaymentOutcome {
	return domain.PaymentOutcome{
		CheckoutRequestID: checkoutRequestID,
		Success:           false,
		ResultCode:        code,
		ResultDesc:        desc,
	}
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
