package service_test

import (
	"fmt"
	"strings"
	"time"

	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
)

func (s *ServiceSuite) TestCreateOrderReservesStockAndSnapshotsPrices() {
	sofaID := s.createProduct("3-seater sofa", 45000, 5)
	tableID := s.createProduct("coffee table", 12000, 3)

	order := s.createOrder(
		domain.PaymentMethodMpesa,
		service.CreateOrderItem{ProductID: sofaID, Quantity: 2},
		service.CreateOrderItem{ProductID: tableID, Quantity: 1},
	)

	s.Equal(int64(102000), order.Subtotal)
	s.Equal(int64(500), order.DeliveryFee)
	s.Equal(int64(102500), order.Total)
	s.Equal(domain.OrderStatusPending, order.OrderStatus)
	s.Equal(domain.PaymentStatusPending, order.PaymentStatus)
	s.True(strings.HasPrefix(order.OrderNumber, "ORD-"))

	s.Equal(int64(3), s.productStock(sofaID))
	s.Equal(int64(2), s.productStock(tableID))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Len(loaded.Items, 2)
	s.Equal("3-seater sofa", loaded.Items[0].Name)
	s.Equal(int64(45000), loaded.Items[0].Price)
	s.Len(loaded.StatusHistory, 1)
	s.Equal(domain.OrderStatusPending, loaded.StatusHistory[0].Status)

	s.Equal([]string{"OrderCreated"}, s.outboxEventTypes())
}

func (s *ServiceSuite) TestOrderNumbersAreSequentialPerDay() {
	productID := s.createProduct("bookshelf", 9000, 10)

	first := s.createOrder(domain.PaymentMethodCashOnDelivery, service.CreateOrderItem{ProductID: productID, Quantity: 1})
	second := s.createOrder(domain.PaymentMethodCashOnDelivery, service.CreateOrderItem{ProductID: productID, Quantity: 1})

	s.True(strings.HasSuffix(first.OrderNumber, "-0001"), first.OrderNumber)
	s.True(strings.HasSuffix(second.OrderNumber, "-0002"), second.OrderNumber)
}

func (s *ServiceSuite) TestCreateOrderInsufficientStockRollsBackEverything() {
	sofaID := s.createProduct("3-seater sofa", 45000, 5)
	lampID := s.createProduct("floor lamp", 3000, 1)

	_, err := s.orders.CreateOrder(s.Ctx, &service.CreateOrderInput{
		UserID:        7,
		PaymentMethod: domain.PaymentMethodMpesa,
		Items: []service.CreateOrderItem{
			{ProductID: sofaID, Quantity: 2},
			{ProductID: lampID, Quantity: 4},
		},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	// The sofa decrement from the same transaction must be rolled back.
	s.Equal(int64(5), s.productStock(sofaID))
	s.Equal(int64(1), s.productStock(lampID))
	s.Empty(s.outboxEventTypes())
}

func (s *ServiceSuite) TestConcurrentOrdersForLastUnit() {
	productID := s.createProduct("display-model recliner", 55000, 1)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.orders.CreateOrder(s.Ctx, &service.CreateOrderInput{
				UserID:        7,
				PaymentMethod: domain.PaymentMethodMpesa,
				Items:         []service.CreateOrderItem{{ProductID: productID, Quantity: 1}},
			})
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			s.Require().ErrorIs(err, domain.ErrInsufficientStock)
			rejected++
		}
	}

	s.Equal(1, succeeded)
	s.Equal(1, rejected)
	s.Equal(int64(0), s.productStock(productID))
}

func (s *ServiceSuite) TestCancelOrderReleasesStockExactlyOnce() {
	sofaID := s.createProduct("dining set", 80000, 4)
	lampID := s.createProduct("floor lamp", 6500, 5)
	order := s.createOrder(
		domain.PaymentMethodMpesa,
		service.CreateOrderItem{ProductID: sofaID, Quantity: 1},
		service.CreateOrderItem{ProductID: lampID, Quantity: 3},
	)
	s.Equal(int64(3), s.productStock(sofaID))
	s.Equal(int64(2), s.productStock(lampID))

	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	err := s.orders.CancelOrder(s.Ctx, actor, order.ID, "changed my mind")
	s.Require().NoError(err)
	s.Equal(int64(4), s.productStock(sofaID))
	s.Equal(int64(5), s.productStock(lampID))

	// Second cancel must not release again.
	err = s.orders.CancelOrder(s.Ctx, actor, order.ID, "again")
	s.Require().ErrorIs(err, domain.ErrOrderNotCancellable)
	s.Equal(int64(4), s.productStock(sofaID))
	s.Equal(int64(5), s.productStock(lampID))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, loaded.OrderStatus)
	s.Equal("changed my mind", loaded.CancelReason)
}

func (s *ServiceSuite) TestCancelForeignOrderForbidden() {
	productID := s.createProduct("wardrobe", 30000, 2)
	order := s.createOrder(domain.PaymentMethodMpesa, service.CreateOrderItem{ProductID: productID, Quantity: 1})

	stranger := domain.Actor{UserID: 99, Role: domain.RoleCustomer}
	err := s.orders.CancelOrder(s.Ctx, stranger, order.ID, "not mine")
	s.Require().ErrorIs(err, domain.ErrForbidden)

	_, err = s.orders.GetOrder(s.Ctx, stranger, order.ID)
	s.Require().ErrorIs(err, domain.ErrForbidden)

	// Admins see everything.
	admin := domain.Actor{UserID: 1, Role: domain.RoleAdmin}
	_, err = s.orders.GetOrder(s.Ctx, admin, order.ID)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestUpdateStatusForwardOnly() {
	productID := s.createProduct("desk", 15000, 2)
	order := s.createOrder(domain.PaymentMethodCashOnDelivery, service.CreateOrderItem{ProductID: productID, Quantity: 1})

	admin := domain.Actor{UserID: 1, Role: domain.RoleAdmin}

	s.Require().NoError(s.orders.UpdateStatus(s.Ctx, admin, order.ID, domain.OrderStatusConfirmed, "confirmed by staff"))
	s.Require().NoError(s.orders.UpdateStatus(s.Ctx, admin, order.ID, domain.OrderStatusShipped, "out for delivery"))

	// Backward move is rejected.
	err := s.orders.UpdateStatus(s.Ctx, admin, order.ID, domain.OrderStatusConfirmed, "oops")
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	// Customers cannot drive fulfillment.
	customer := domain.Actor{UserID: 7, Role: domain.RoleCustomer}
	err = s.orders.UpdateStatus(s.Ctx, customer, order.ID, domain.OrderStatusDelivered, "")
	s.Require().ErrorIs(err, domain.ErrForbidden)

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusShipped, loaded.OrderStatus)
	s.Len(loaded.StatusHistory, 3)
}

func (s *ServiceSuite) TestCancelExpiredSkipsPaidOrders() {
	productID := s.createProduct("armchair", 20000, 5)

	expired := s.createOrder(domain.PaymentMethodMpesa, service.CreateOrderItem{ProductID: productID, Quantity: 1})
	s.backdateOrder(expired.ID, 2*time.Hour)

	paid := s.createOrder(domain.PaymentMethodMpesa, service.CreateOrderItem{ProductID: productID, Quantity: 1})
	s.backdateOrder(paid.ID, 2*time.Hour)

	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}
	_, err := s.payments.InitiatePayment(s.Ctx, actor, paid.ID, "0712345678", paid.Total)
	s.Require().NoError(err)
	checkoutID := fmt.Sprintf("ws_CO_%d", s.gateway.pushCount)
	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome(checkoutID, "NLJ7RT61SV", paid.Total)))

	ids, err := s.orderRepo.ListExpiredPending(s.Ctx, domain.PaymentMethodMpesa, time.Now().Add(-30*time.Minute), 100)
	s.Require().NoError(err)
	s.Contains(ids, expired.ID)
	s.NotContains(ids, paid.ID)

	s.Require().NoError(s.orders.CancelExpired(s.Ctx, expired.ID, "payment window expired"))

	loaded, err := s.orderRepo.GetByID(s.Ctx, expired.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, loaded.OrderStatus)

	// The paid order is not cancellable through the expiry path.
	err = s.orders.CancelExpired(s.Ctx, paid.ID, "payment window expired")
	s.Require().ErrorIs(err, domain.ErrOrderNotCancellable)

	stillPaid, err := s.orderRepo.GetByID(s.Ctx, paid.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, stillPaid.PaymentStatus)
	s.Equal(domain.OrderStatusConfirmed, stillPaid.OrderStatus)
}

func (s *ServiceSuite) TestSoftDeletedProductIsNotOrderable() {
	productID := s.createProduct("retired armchair", 12000, 5)

	_, err := s.DbPool.Exec(s.Ctx, `UPDATE products SET deleted_at = NOW() WHERE id = $1`, productID)
	s.Require().NoError(err)

	_, err = s.productRepo.GetByID(s.Ctx, productID)
	s.Require().ErrorIs(err, domain.ErrProductNotFound)

	_, err = s.orders.CreateOrder(s.Ctx, &service.CreateOrderInput{
		UserID:          7,
		CustomerName:    "Wanjiku Kamau",
		CustomerEmail:   "wanjiku@example.com",
		CustomerPhone:   "0712345678",
		DeliveryAddress: "Kileleshwa, Nairobi",
		PaymentMethod:   domain.PaymentMethodMpesa,
		Items:           []service.CreateOrderItem{{ProductID: productID, Quantity: 1}},
	})
	s.Require().ErrorIs(err, domain.ErrProductNotFound)
}
