package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"commerce-service/internal/models"
	"commerce-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stockDeduction struct {
	ProductID int64
	Quantity  int
}

// fakeStore implements Store and store.Transaction in memory. Transact
// runs the callback against the fake itself; tests assert on what was
// recorded (or not recorded) instead of on rollback.
type fakeStore struct {
	store.Transaction

	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	products map[int64]models.Product
	users    map[int64]*models.User
	refunds  map[int64][]models.Refund
	subs     map[string]*models.Subscription
	dueJobs  []models.ScheduledJob

	restocked     []models.OrderItem
	deductions    []stockDeduction
	saved         *models.Order
	refundRows    []models.Refund
	insertedJobs  []models.ScheduledJob
	insertedSubs  []models.Subscription
	expiredSubs   []string
	processedJobs map[string]string
	restockErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:        make(map[int64]*models.Order),
		items:         make(map[int64][]models.OrderItem),
		products:      make(map[int64]models.Product),
		users:         make(map[int64]*models.User),
		refunds:       make(map[int64][]models.Refund),
		subs:          make(map[string]*models.Subscription),
		processedJobs: make(map[string]string),
	}
}

func (f *fakeStore) Transact(ctx context.Context, fn func(tx store.Transaction) error) error {
	return fn(f)
}

func (f *fakeStore) OrderForUpdate(ctx context.Context, orderID int64) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, store.ErrNotFound)
	}
	copied := *order
	return &copied, nil
}

func (f *fakeStore) OrderByID(ctx context.Context, orderID int64) (*models.Order, error) {
	return f.OrderForUpdate(ctx, orderID)
}

func (f *fakeStore) ItemsByOrder(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return f.items[orderID], nil
}

func (f *fakeStore) ProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) RestockItems(ctx context.Context, items []models.OrderItem) error {
	if f.restockErr != nil {
		return f.restockErr
	}
	f.restocked = append(f.restocked, items...)
	return nil
}

func (f *fakeStore) DeductStock(ctx context.Context, productID int64, quantity int) error {
	p, ok := f.products[productID]
	if !ok || p.Stock < quantity {
		return fmt.Errorf("product %d: %w", productID, store.ErrInsufficientStock)
	}
	p.Stock -= quantity
	f.products[productID] = p
	f.deductions = append(f.deductions, stockDeduction{ProductID: productID, Quantity: quantity})
	return nil
}

func (f *fakeStore) SaveOrderTransition(ctx context.Context, order *models.Order) error {
	copied := *order
	f.saved = &copied
	f.orders[order.ID] = &copied
	return nil
}

func (f *fakeStore) InsertOrder(ctx context.Context, order *models.Order) error {
	order.ID = int64(len(f.orders) + 1)
	copied := *order
	f.orders[order.ID] = &copied
	return nil
}

func (f *fakeStore) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	item.ID = int64(len(f.items[item.OrderID]) + 1)
	f.items[item.OrderID] = append(f.items[item.OrderID], *item)
	return nil
}

func (f *fakeStore) InsertRefund(ctx context.Context, refund *models.Refund) error {
	refund.ID = int64(len(f.refundRows) + 1)
	f.refundRows = append(f.refundRows, *refund)
	return nil
}

func (f *fakeStore) RefundsByOrder(ctx context.Context, orderID int64) ([]models.Refund, error) {
	return f.refunds[orderID], nil
}

func (f *fakeStore) OrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, order := range f.orders {
		if order.UserID == userID {
			out = append(out, *order)
		}
	}
	return out, nil
}

func (f *fakeStore) ListCancellations(ctx context.Context, q store.CancellationQuery) ([]models.Order, error) {
	var out []models.Order
	for _, order := range f.orders {
		if q.UserID != 0 && order.UserID != q.UserID {
			continue
		}
		if q.Status != "" {
			if order.Status != q.Status {
				continue
			}
		} else if order.Status != models.OrderStatusCancelled && order.Status != models.OrderStatusReturned {
			continue
		}
		out = append(out, *order)
	}
	return out, nil
}

func (f *fakeStore) CountCancellations(ctx context.Context, q store.CancellationQuery) (int, error) {
	orders, _ := f.ListCancellations(ctx, q)
	return len(orders), nil
}

func (f *fakeStore) UserByID(ctx context.Context, id int64) (*models.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (f *fakeStore) UserForUpdate(ctx context.Context, id int64) (*models.User, error) {
	return f.UserByID(ctx, id)
}

func (f *fakeStore) SaveUserSubscription(ctx context.Context, user *models.User) error {
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeStore) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	f.insertedSubs = append(f.insertedSubs, *sub)
	copied := *sub
	f.subs[sub.ID] = &copied
	return nil
}

func (f *fakeStore) SubscriptionByID(ctx context.Context, id string) (*models.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, store.ErrNotFound)
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeStore) MarkSubscriptionExpired(ctx context.Context, id string) error {
	f.expiredSubs = append(f.expiredSubs, id)
	return nil
}

func (f *fakeStore) InsertScheduledJob(ctx context.Context, job *models.ScheduledJob) error {
	f.insertedJobs = append(f.insertedJobs, *job)
	return nil
}

func (f *fakeStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	var due []models.ScheduledJob
	for _, job := range f.dueJobs {
		if job.Status == models.JobStatusPending && !job.RunAt.After(now) && len(due) < limit {
			due = append(due, job)
		}
	}
	return due, nil
}

func (f *fakeStore) MarkJobProcessed(ctx context.Context, jobID, status string) error {
	f.processedJobs[jobID] = status
	return nil
}

// fakeGateway implements RefundClient
type fakeGateway struct {
	refund        *GatewayRefund
	err           error
	calls         int
	lastPaymentID string
	lastAmount    int64
	lastNotes     map[string]string
}

func (g *fakeGateway) CreateRefund(ctx context.Context, paymentID string, amountMinorUnits int64, notes map[string]string) (*GatewayRefund, error) {
	g.calls++
	g.lastPaymentID = paymentID
	g.lastAmount = amountMinorUnits
	g.lastNotes = notes
	if g.err != nil {
		return nil, g.err
	}
	if g.refund != nil {
		return g.refund, nil
	}
	return &GatewayRefund{ID: "rfnd_1", Amount: amountMinorUnits, Status: "processed"}, nil
}

// fakeCache implements Cache
type fakeCache struct {
	guardHeld   bool
	acquired    int
	released    int
	invalidated int
}

func (c *fakeCache) AcquireRefundGuard(ctx context.Context, orderID int64, ttl time.Duration) (bool, error) {
	c.acquired++
	return !c.guardHeld, nil
}

func (c *fakeCache) ReleaseRefundGuard(ctx context.Context, orderID int64) error {
	c.released++
	return nil
}

func (c *fakeCache) CacheCancellationDetails(ctx context.Context, orderID int64, payload []byte, ttl time.Duration) error {
	return nil
}

func (c *fakeCache) GetCancellationDetails(ctx context.Context, orderID int64) ([]byte, error) {
	return nil, nil
}

func (c *fakeCache) InvalidateCancellationDetails(ctx context.Context, orderID int64) error {
	c.invalidated++
	return nil
}

func paidOrder(id, userID int64, status string, orderedDaysAgo int) *models.Order {
	return &models.Order{
		ID:            id,
		UserID:        userID,
		TotalPrice:    1000,
		PaymentStatus: models.PaymentStatusPaid,
		PaymentMethod: models.PaymentMethodRazorpay,
		TransactionID: sql.NullString{String: "pay_123", Valid: true},
		Status:        status,
		OrderedAt:     time.Now().AddDate(0, 0, -orderedDaysAgo),
	}
}

func newCancellationService(fs *fakeStore, gw *fakeGateway, cache Cache) *CancellationService {
	return NewCancellationService(fs, gw, cache, nil)
}

func TestRequestCancellationPaidProcessingOrder(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 2)
	fs.items[1] = []models.OrderItem{
		{OrderID: 1, ProductID: 10, Quantity: 2},
		{OrderID: 1, ProductID: 11, Quantity: 1},
	}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, models.PaymentStatusRefunded, result.Order.PaymentStatus)
	assert.True(t, result.Order.CancelledAt.Valid)
	assert.Equal(t, "Changed my mind", result.Order.CancellationReason.String)

	require.NotNil(t, result.Refund)
	assert.Equal(t, "rfnd_1", result.Refund.RefundID)
	assert.Equal(t, float64(1000), result.Refund.Amount)
	assert.Equal(t, "processed", result.Refund.Status)

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, "pay_123", gw.lastPaymentID)
	assert.Equal(t, int64(100000), gw.lastAmount)

	require.Len(t, fs.restocked, 2)
	assert.Equal(t, 2, fs.restocked[0].Quantity)
	assert.Equal(t, 1, fs.restocked[1].Quantity)
	require.Len(t, fs.refundRows, 1)
	assert.Equal(t, "processed", fs.refundRows[0].Status)
}

func TestRequestCancellationShippedWithinWindow(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusShipped, 3)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Delivery taking too long",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
}

func TestRequestCancellationShippedWindowExpired(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusShipped, 10)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	var window *WindowExpiredError
	require.ErrorAs(t, err, &window)
	assert.Empty(t, fs.restocked)
	assert.Zero(t, gw.calls)
	assert.Nil(t, fs.saved)
}

func TestRequestCancellationProcessingIgnoresWindow(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 30)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Ordered by mistake",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
}

func TestRequestCancellationWrongUser(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 1)
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	_, err := svc.RequestCancellation(context.Background(), 7, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	var authz *AuthorizationError
	require.ErrorAs(t, err, &authz)
	assert.Nil(t, fs.saved)
}

func TestRequestCancellationInvalidStatus(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusDelivered, 1)
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	_, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Contains(t, err.Error(), models.OrderStatusDelivered)
}

func TestRequestCancellationIdempotentSecondCall(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 1)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 3}}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	// The second request sees the committed Cancelled status and must not
	// restock or refund again.
	_, err = svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Len(t, fs.restocked, 1)
	assert.Equal(t, 1, gw.calls)
}

func TestRequestCancellationMissingTransactionID(t *testing.T) {
	fs := newFakeStore()
	order := paidOrder(1, 42, models.OrderStatusProcessing, 1)
	order.TransactionID = sql.NullString{}
	fs.orders[1] = order
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	assert.Zero(t, gw.calls)
	require.NotNil(t, result.Refund)
	assert.Equal(t, models.RefundStatusFailed, result.Refund.Status)
	assert.Contains(t, result.Refund.Error, "contact support")

	// Refund failure does not block the transition.
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, models.PaymentStatusPaid, result.Order.PaymentStatus)
}

func TestRequestCancellationGatewayFailure(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 1)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{err: &GatewayError{Code: "BAD_REQUEST_ERROR", Message: "payment already refunded"}}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Refund)
	assert.Equal(t, models.RefundStatusFailed, result.Refund.Status)
	assert.Equal(t, "payment already refunded", result.Refund.Error)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Equal(t, models.PaymentStatusPaid, result.Order.PaymentStatus)
	require.NotNil(t, fs.saved)
	assert.Equal(t, models.OrderStatusCancelled, fs.saved.Status)
}

func TestRequestCancellationUnpaidOrderSkipsRefund(t *testing.T) {
	fs := newFakeStore()
	order := paidOrder(1, 42, models.OrderStatusProcessing, 1)
	order.PaymentStatus = models.PaymentStatusUnpaid
	order.PaymentMethod = models.PaymentMethodCashOnDelivery
	fs.orders[1] = order
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	assert.Nil(t, result.Refund)
	assert.Zero(t, gw.calls)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
	assert.Empty(t, fs.refundRows)
}

func TestRequestCancellationRefundGuardHeld(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 1)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{}
	cache := &fakeCache{guardHeld: true}
	svc := newCancellationService(fs, gw, cache)

	result, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})
	require.NoError(t, err)

	assert.Zero(t, gw.calls)
	require.NotNil(t, result.Refund)
	assert.Equal(t, models.RefundStatusFailed, result.Refund.Status)
	assert.Equal(t, models.OrderStatusCancelled, result.Order.Status)
}

func TestRequestCancellationRestockFailureAborts(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 1)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 2}}
	fs.restockErr = errors.New("bulk update failed")
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	// A failed stock restore aborts everything: no refund attempt, no
	// status change, no refund row.
	require.Error(t, err)
	assert.Zero(t, gw.calls)
	assert.Nil(t, fs.saved)
	assert.Empty(t, fs.refundRows)
	assert.Equal(t, models.OrderStatusProcessing, fs.orders[1].Status)
}

func TestRequestCancellationNotFound(t *testing.T) {
	fs := newFakeStore()
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	_, err := svc.RequestCancellation(context.Background(), 42, &CancellationRequest{
		OrderID: 99,
		Reason:  "Changed my mind",
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func deliveredOrder(daysSinceDelivery int) *models.Order {
	order := paidOrder(1, 42, models.OrderStatusDelivered, daysSinceDelivery+3)
	order.DeliveredAt = sql.NullTime{Time: time.Now().AddDate(0, 0, -daysSinceDelivery), Valid: true}
	return order
}

func TestRequestReturnFullOrder(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = deliveredOrder(5)
	fs.items[1] = []models.OrderItem{
		{OrderID: 1, ProductID: 10, Quantity: 2},
		{OrderID: 1, ProductID: 11, Quantity: 1},
	}
	fs.products[10] = models.Product{ID: 10, DiscountedPrice: sql.NullFloat64{Float64: 250, Valid: true}}
	fs.products[11] = models.Product{ID: 11} // no price, falls back to 599
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestReturn(context.Background(), 42, &ReturnRequest{
		OrderID: 1,
		Reason:  "Product defective",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusReturned, result.Order.Status)
	assert.Equal(t, models.PaymentStatusRefunded, result.Order.PaymentStatus)
	assert.Equal(t, "Product defective", result.Order.RefundReason.String)

	// 2*250 + 1*599
	assert.Equal(t, float64(1099), result.RefundAmount)
	assert.Equal(t, int64(109900), gw.lastAmount)
	require.NotNil(t, result.Refund)
	assert.Equal(t, "full", result.Refund.Type)
	assert.Len(t, fs.restocked, 2)
}

func TestRequestReturnPartial(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = deliveredOrder(5)
	fs.items[1] = []models.OrderItem{
		{OrderID: 1, ProductID: 10, Quantity: 2},
		{OrderID: 1, ProductID: 11, Quantity: 1},
	}
	fs.products[10] = models.Product{ID: 10, DiscountedPrice: sql.NullFloat64{Float64: 250, Valid: true}}
	fs.products[11] = models.Product{ID: 11}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	result, err := svc.RequestReturn(context.Background(), 42, &ReturnRequest{
		OrderID:     1,
		Reason:      "Wrong item received",
		ReturnItems: []ReturnItem{{ProductID: 10, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPartiallyRefunded, result.Order.PaymentStatus)
	assert.Equal(t, float64(250), result.RefundAmount)
	require.NotNil(t, result.Refund)
	assert.Equal(t, "partial", result.Refund.Type)

	// Only the returned subset is restocked.
	require.Len(t, fs.restocked, 1)
	assert.Equal(t, int64(10), fs.restocked[0].ProductID)
	assert.Equal(t, 1, fs.restocked[0].Quantity)
}

func TestRequestReturnRestockFailureAborts(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = deliveredOrder(5)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	fs.products[10] = models.Product{ID: 10, DiscountedPrice: sql.NullFloat64{Float64: 250, Valid: true}}
	fs.restockErr = errors.New("bulk update failed")
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.RequestReturn(context.Background(), 42, &ReturnRequest{
		OrderID: 1,
		Reason:  "Product defective",
	})

	require.Error(t, err)
	assert.Zero(t, gw.calls)
	assert.Nil(t, fs.saved)
	assert.Empty(t, fs.refundRows)
	assert.Equal(t, models.OrderStatusDelivered, fs.orders[1].Status)
}

func TestRequestReturnWindowExpired(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = deliveredOrder(20)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.RequestReturn(context.Background(), 42, &ReturnRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	var window *WindowExpiredError
	require.ErrorAs(t, err, &window)
	assert.Empty(t, fs.restocked)
	assert.Zero(t, gw.calls)
	assert.Nil(t, fs.saved)
}

func TestRequestReturnRequiresDelivered(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusShipped, 2)
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	_, err := svc.RequestReturn(context.Background(), 42, &ReturnRequest{
		OrderID: 1,
		Reason:  "Changed my mind",
	})

	var transition *InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Contains(t, err.Error(), models.OrderStatusShipped)
}

func TestApproveCancellationGatewayFailureAborts(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusCancelled, 2)
	gw := &fakeGateway{err: errors.New("gateway unavailable")}
	svc := newCancellationService(fs, gw, nil)

	_, err := svc.ApproveCancellation(context.Background(), &ApprovalRequest{
		OrderID:  1,
		Approved: true,
		Notes:    "approved by ops",
	})

	// Unlike the customer path, the admin path aborts the whole operation.
	var refundErr *RefundError
	require.ErrorAs(t, err, &refundErr)
	assert.Nil(t, fs.saved)
	assert.Empty(t, fs.refundRows)
	assert.Equal(t, models.PaymentStatusPaid, fs.orders[1].PaymentStatus)
}

func TestApproveCancellationRefundsPaidOrder(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusCancelled, 2)
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	order, err := svc.ApproveCancellation(context.Background(), &ApprovalRequest{
		OrderID:  1,
		Approved: true,
		Notes:    "approved by ops",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, int64(100000), gw.lastAmount)
	assert.Equal(t, models.PaymentStatusRefunded, order.PaymentStatus)
	assert.Equal(t, "approved by ops", order.Notes.String)
	require.Len(t, fs.refundRows, 1)
}

func TestApproveCancellationRejectedLeavesPayment(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusCancelled, 2)
	gw := &fakeGateway{}
	svc := newCancellationService(fs, gw, nil)

	order, err := svc.ApproveCancellation(context.Background(), &ApprovalRequest{
		OrderID:  1,
		Approved: false,
	})
	require.NoError(t, err)

	assert.Zero(t, gw.calls)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
}

func TestResolveReturnItemsDefaultsToFullOrder(t *testing.T) {
	items := []models.OrderItem{
		{OrderID: 1, ProductID: 10, Quantity: 2},
		{OrderID: 1, ProductID: 11, Quantity: 1},
	}

	resolved := resolveReturnItems(nil, items)
	assert.Equal(t, items, resolved)
}

func TestResolveReturnItemsDropsUnknownProducts(t *testing.T) {
	items := []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 2}}

	resolved := resolveReturnItems([]ReturnItem{
		{ProductID: 10, Quantity: 1},
		{ProductID: 99, Quantity: 5},
	}, items)

	require.Len(t, resolved, 1)
	assert.Equal(t, int64(10), resolved[0].ProductID)
	assert.Equal(t, 1, resolved[0].Quantity)
}

func TestResolveReturnItemsClampsQuantityToOrdered(t *testing.T) {
	items := []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 2}}

	resolved := resolveReturnItems([]ReturnItem{{ProductID: 10, Quantity: 5}}, items)

	require.Len(t, resolved, 1)
	assert.Equal(t, 2, resolved[0].Quantity)
}

func TestGetCancellationDetailsEligibility(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusProcessing, 3)
	fs.items[1] = []models.OrderItem{{OrderID: 1, ProductID: 10, Quantity: 1}}
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	details, err := svc.GetCancellationDetails(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, details.Eligibility.CanCancel)
	assert.False(t, details.Eligibility.CanReturn)
	assert.Equal(t, 3, details.Eligibility.DaysOld)
	assert.True(t, details.Eligibility.ReturnsWindowOpen)
	assert.NotEmpty(t, details.CancellationReasons)
	assert.NotEmpty(t, details.ReturnReasons)
}

func TestGetCancellationDetailsFlagsAreOrderAgeBased(t *testing.T) {
	fs := newFakeStore()
	// Ordered 20 days ago, delivered yesterday: the advisory flag reads
	// from the order date, while the return operation itself would still
	// accept this order based on the delivery date.
	order := paidOrder(1, 42, models.OrderStatusDelivered, 20)
	order.DeliveredAt = sql.NullTime{Time: time.Now().AddDate(0, 0, -1), Valid: true}
	fs.orders[1] = order
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	details, err := svc.GetCancellationDetails(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, details.Eligibility.CanReturn)
	assert.False(t, details.Eligibility.ReturnsWindowOpen)
	assert.Equal(t, 20, details.Eligibility.DaysOld)
}

func TestRefundStatusTimeline(t *testing.T) {
	fs := newFakeStore()
	order := paidOrder(1, 42, models.OrderStatusCancelled, 2)
	order.PaymentStatus = models.PaymentStatusRefunded
	order.CancelledAt = sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true}
	order.CancellationReason = sql.NullString{String: "Changed my mind", Valid: true}
	fs.orders[1] = order
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	timeline, err := svc.RefundStatus(context.Background(), 1, 42)
	require.NoError(t, err)

	assert.True(t, timeline.Timeline.InProgress)
	assert.True(t, timeline.Timeline.Completed)
	assert.Equal(t, "Changed my mind", timeline.RefundReason)
}

func TestRefundStatusWrongUser(t *testing.T) {
	fs := newFakeStore()
	fs.orders[1] = paidOrder(1, 42, models.OrderStatusCancelled, 2)
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	_, err := svc.RefundStatus(context.Background(), 1, 7)

	var authz *AuthorizationError
	require.ErrorAs(t, err, &authz)
}

func TestCancellationHistoryPagination(t *testing.T) {
	fs := newFakeStore()
	cancelled := paidOrder(1, 42, models.OrderStatusCancelled, 5)
	returned := paidOrder(2, 42, models.OrderStatusReturned, 8)
	active := paidOrder(3, 42, models.OrderStatusProcessing, 1)
	fs.orders[1], fs.orders[2], fs.orders[3] = cancelled, returned, active
	svc := newCancellationService(fs, &fakeGateway{}, nil)

	page, err := svc.CancellationHistory(context.Background(), 42, HistoryQuery{Limit: 10})
	require.NoError(t, err)

	assert.Len(t, page.Cancellations, 2)
	assert.Equal(t, 2, page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)
}
