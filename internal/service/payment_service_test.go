package service_test

import (
	"github.com/JOMO418/furniture-hub-backend/internal/domain"
	"github.com/JOMO418/furniture-hub-backend/internal/mpesa"
	"github.com/JOMO418/furniture-hub-backend/internal/service"
)

func (s *ServiceSuite) mpesaOrder(stock int64, quantity int32) *domain.Order {
	productID := s.createProduct("leather sofa", 65000, stock)
	return s.createOrder(domain.PaymentMethodMpesa, service.CreateOrderItem{ProductID: productID, Quantity: quantity})
}

func (s *ServiceSuite) TestInitiatePaymentRecordsAttempt() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	attempt, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	s.Equal(order.ID, attempt.OrderID)
	s.Equal(order.Total, attempt.Amount)
	s.Equal("254712345678", attempt.Phone)
	s.Equal(domain.AttemptStatusPending, attempt.Status)
	s.NotEmpty(attempt.CheckoutRequestID)

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(attempt.CheckoutRequestID, loaded.Payment.TransactionID)
}

func (s *ServiceSuite) TestInitiatePaymentGuards() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	_, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "07123", order.Total)
	s.Require().ErrorIs(err, domain.ErrInvalidPhoneNumber)

	_, err = s.payments.InitiatePayment(s.Ctx, domain.Actor{UserID: 99, Role: domain.RoleCustomer}, order.ID, "0712345678", order.Total)
	s.Require().ErrorIs(err, domain.ErrForbidden)

	// A quoted amount off by more than the rounding tolerance is rejected.
	_, err = s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total-100)
	s.Require().ErrorIs(err, domain.ErrAmountMismatch)

	attempt, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	// A fresh pending attempt blocks a second push.
	_, err = s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().ErrorIs(err, domain.ErrPaymentInProgress)

	// Once paid, further pushes are rejected outright.
	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome(attempt.CheckoutRequestID, "NLJ7RT61SV", order.Total)))

	_, err = s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().ErrorIs(err, domain.ErrAlreadyPaid)

	// A cancelled order is not awaiting payment at all.
	cancelled := s.mpesaOrder(3, 1)
	s.Require().NoError(s.orders.CancelOrder(s.Ctx, actor, cancelled.ID, "changed my mind"))

	_, err = s.payments.InitiatePayment(s.Ctx, actor, cancelled.ID, "0712345678", cancelled.Total)
	s.Require().ErrorIs(err, domain.ErrOrderNotPayable)
}

func (s *ServiceSuite) TestSuccessfulCallbackMarksPaidAndConfirms() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	attempt, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome(attempt.CheckoutRequestID, "NLJ7RT61SV", order.Total)))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, loaded.PaymentStatus)
	s.Equal(domain.OrderStatusConfirmed, loaded.OrderStatus)
	s.Equal("NLJ7RT61SV", loaded.Payment.MpesaReceiptNumber)
	s.Require().NotNil(loaded.Payment.PaidAt)

	final, err := s.attemptRepo.GetByCheckoutRequestID(s.Ctx, attempt.CheckoutRequestID)
	s.Require().NoError(err)
	s.Equal(domain.AttemptStatusSucceeded, final.Status)
	s.Equal("NLJ7RT61SV", final.Receipt)

	s.Equal([]string{"OrderCreated", "PaymentReceived"}, s.outboxEventTypes())
}

func (s *ServiceSuite) TestDuplicateCallbackIsIdempotent() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	attempt, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	outcome := successOutcome(attempt.CheckoutRequestID, "NLJ7RT61SV", order.Total)
	s.Require().NoError(s.payments.Reconcile(s.Ctx, outcome))

	first, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	historyLen := len(first.StatusHistory)

	s.Require().NoError(s.payments.Reconcile(s.Ctx, outcome))
	s.Require().NoError(s.payments.Reconcile(s.Ctx, outcome))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, loaded.PaymentStatus)

	// Redeliveries append no history and emit no second payment event.
	s.Equal(historyLen, len(loaded.StatusHistory))
	s.Equal([]string{"OrderCreated", "PaymentReceived"}, s.outboxEventTypes())
}

func (s *ServiceSuite) TestFailedCallbackLeavesOrderRetryable() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	attempt, err := s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	s.Require().NoError(s.payments.Reconcile(s.Ctx, failureOutcome(attempt.CheckoutRequestID, 1032, "Request cancelled by user")))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusFailed, loaded.PaymentStatus)
	s.Equal(domain.OrderStatusPending, loaded.OrderStatus)
	s.Equal("Request cancelled by user", loaded.Payment.FailureReason)

	// The customer can try again.
	retry, err := s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)
	s.NotEqual(attempt.CheckoutRequestID, retry.CheckoutRequestID)
}

func (s *ServiceSuite) TestStaleFailureCannotFlipSupersededAttempt() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	first, err := s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	// Re-initiation supersedes the first attempt.
	second, err := s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	superseded, err := s.attemptRepo.GetByCheckoutRequestID(s.Ctx, first.CheckoutRequestID)
	s.Require().NoError(err)
	s.Equal(domain.AttemptStatusSuperseded, superseded.Status)

	// A late failure for the retired attempt must not touch the order.
	s.Require().NoError(s.payments.Reconcile(s.Ctx, failureOutcome(first.CheckoutRequestID, 1037, "DS timeout")))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPending, loaded.PaymentStatus)

	// The live attempt still completes normally.
	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome(second.CheckoutRequestID, "NLJ7RT61SV", order.Total)))

	loaded, err = s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, loaded.PaymentStatus)
}

func (s *ServiceSuite) TestLateSuccessForSupersededAttemptStillPaysOrder() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	first, err := s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	_, err = s.paymentsNoWindow.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	// The payer completed the first prompt after all. The money moved, so the
	// order must be marked paid even though the attempt was retired.
	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome(first.CheckoutRequestID, "NLJ7RT61SV", order.Total)))

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, loaded.PaymentStatus)

	// The retired attempt stays superseded; the success is recorded on the
	// order, not resurrected on the attempt.
	att, err := s.attemptRepo.GetByCheckoutRequestID(s.Ctx, first.CheckoutRequestID)
	s.Require().NoError(err)
	s.Equal(domain.AttemptStatusSuperseded, att.Status)
}

func (s *ServiceSuite) TestUnknownCheckoutIDIsDropped() {
	s.Require().NoError(s.payments.Reconcile(s.Ctx, successOutcome("ws_CO_unknown", "NLJ7RT61SV", 1000)))
}

func (s *ServiceSuite) TestQueryStatusReconcilesPoll() {
	order := s.mpesaOrder(3, 1)
	actor := domain.Actor{UserID: 7, Role: domain.RoleCustomer}

	attempt, err := s.payments.InitiatePayment(s.Ctx, actor, order.ID, "0712345678", order.Total)
	s.Require().NoError(err)

	s.gateway.queryRes = &mpesa.QueryResponse{
		ResponseCode:      "0",
		CheckoutRequestID: attempt.CheckoutRequestID,
		ResultCode:        "1032",
		ResultDesc:        "Request cancelled by user",
	}

	polled, err := s.payments.QueryPaymentStatus(s.Ctx, actor, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.AttemptStatusFailed, polled.Status)
	s.Equal("Request cancelled by user", polled.ResultDesc)

	loaded, err := s.orderRepo.GetByID(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusFailed, loaded.PaymentStatus)
}
