package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/port"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mock ListingRepository
type mockListingRepo struct {
	mu       sync.Mutex
	items    map[string]*domain.Listing
	setCalls int
	failSet  error
}

func newMockListingRepo() *mockListingRepo {
	return &mockListingRepo{items: make(map[string]*domain.Listing)}
}

func (m *mockListingRepo) Get(ctx context.Context, id string) (*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return l.Clone(), nil
}

func (m *mockListingRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*domain.Listing
	for _, id := range ids {
		if l, ok := m.items[id]; ok {
			res = append(res, l.Clone())
		}
	}
	return res, nil
}

func (m *mockListingRepo) GetAll(ctx context.Context) ([]*domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*domain.Listing, 0, len(m.items))
	for _, l := range m.items {
		res = append(res, l.Clone())
	}
	return res, nil
}

func (m *mockListingRepo) Set(ctx context.Context, l *domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.failSet != nil {
		return m.failSet
	}
	if cur, ok := m.items[l.ID]; ok && cur.Version != l.Version {
		return domain.ErrVersionConflict
	}
	l.Version++
	m.items[l.ID] = l.Clone()
	return nil
}

func (m *mockListingRepo) stored(id string) *domain.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Clone()
}

// Mock TransactionRepository
type mockTxnRepo struct {
	mu       sync.Mutex
	items    map[string]*domain.Transaction
	setCalls int

	// failSetAfter makes the n-th and later Set calls fail; 0 disables.
	failSetAfter int

	// failNextSet fails the next Set call only.
	failNextSet error

	// honorCtx makes Set fail on a done context, like ExecContext.
	honorCtx bool
}

func newMockTxnRepo() *mockTxnRepo {
	return &mockTxnRepo{items: make(map[string]*domain.Transaction)}
}

func (m *mockTxnRepo) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (m *mockTxnRepo) GetMany(ctx context.Context, ids []string) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*domain.Transaction
	for _, id := range ids {
		if t, ok := m.items[id]; ok {
			res = append(res, t.Clone())
		}
	}
	return res, nil
}

func (m *mockTxnRepo) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*domain.Transaction, 0, len(m.items))
	for _, t := range m.items {
		res = append(res, t.Clone())
	}
	return res, nil
}

func (m *mockTxnRepo) Set(ctx context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.failSetAfter > 0 && m.setCalls >= m.failSetAfter {
		return errBoom
	}
	if err := m.failNextSet; err != nil {
		m.failNextSet = nil
		return err
	}
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if cur, ok := m.items[t.ID]; ok && cur.Version != t.Version {
		return domain.ErrVersionConflict
	}
	t.Version++
	m.items[t.ID] = t.Clone()
	return nil
}

func (m *mockTxnRepo) failNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextSet = err
}

func (m *mockTxnRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Mock EventCatalog
type mockCatalog struct {
	mu     sync.Mutex
	events map[string]*domain.Event
}

func newMockCatalog(events ...*domain.Event) *mockCatalog {
	c := &mockCatalog{events: make(map[string]*domain.Event)}
	for _, e := range events {
		c.events[e.ID] = e
	}
	return c
}

func (m *mockCatalog) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	c := *e
	c.Dates = append([]domain.EventDate(nil), e.Dates...)
	return &c, nil
}

func (m *mockCatalog) approve(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.events[eventID]
	e.Status = domain.ApprovalStatusApproved
	for i := range e.Dates {
		e.Dates[i].Status = domain.ApprovalStatusApproved
	}
}

// Mock WalletLedger recording every call
type walletCall struct {
	Op     string
	UserID string
	Amount domain.Money
	RefID  string
}

type mockWallet struct {
	mu       sync.Mutex
	calls    []walletCall
	failOps  map[string]error
	failRefs map[string]error
	delay    time.Duration
}

func newMockWallet() *mockWallet {
	return &mockWallet{failOps: make(map[string]error), failRefs: make(map[string]error)}
}

func (m *mockWallet) record(op, userID string, amount domain.Money, refID string) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOps[op]; err != nil {
		return err
	}
	if err := m.failRefs[refID]; err != nil {
		return err
	}
	m.calls = append(m.calls, walletCall{Op: op, UserID: userID, Amount: amount, RefID: refID})
	return nil
}

func (m *mockWallet) HoldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.record("hold", userID, amount, refID)
}

func (m *mockWallet) ReleaseFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.record("release", userID, amount, refID)
}

func (m *mockWallet) RefundHeldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.record("refund", userID, amount, refID)
}

func (m *mockWallet) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOps[op] = err
}

func (m *mockWallet) failRef(refID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRefs[refID] = err
}

func (m *mockWallet) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]string, len(m.calls))
	for i, c := range m.calls {
		res[i] = c.Op
	}
	return res
}

func (m *mockWallet) countOp(op string) int {
	n := 0
	for _, o := range m.ops() {
		if o == op {
			n++
		}
	}
	return n
}

// Mock PaymentGateway
type mockPayments struct {
	mu         sync.Mutex
	intents    map[string]*port.PaymentIntent
	refunded   []string
	failCreate error
	failRefund error
	seq        int
}

func newMockPayments() *mockPayments {
	return &mockPayments{intents: make(map[string]*port.PaymentIntent)}
}

func (m *mockPayments) CreatePaymentIntent(ctx context.Context, txnID string, amount domain.Money, metadata map[string]string) (*port.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return nil, m.failCreate
	}
	m.seq++
	pi := &port.PaymentIntent{
		ID:            "pi-" + txnID,
		TransactionID: txnID,
		Amount:        amount,
		Status:        "requires_payment",
	}
	m.intents[txnID] = pi
	return pi, nil
}

func (m *mockPayments) GetPaymentByTransactionID(ctx context.Context, txnID string) (*port.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intents[txnID], nil
}

func (m *mockPayments) RefundPayment(ctx context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRefund != nil {
		return m.failRefund
	}
	m.refunded = append(m.refunded, paymentID)
	return nil
}

type staticFees struct {
	buyer, seller decimal.Decimal
	releaseMin    int
}

func (f staticFees) BuyerFeePercentage() decimal.Decimal { return f.buyer }
func (f staticFees) SellerFeePercentage() decimal.Decimal { return f.seller }
func (f staticFees) DigitalNonTransferableReleaseMinutes() int { return f.releaseMin }

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.TransactionEvent
}

func (m *mockPublisher) Publish(ctx context.Context, e domain.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]string, len(m.events))
	for i, e := range m.events {
		res[i] = e.Type
	}
	return res
}

var eventStart = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

func approvedEvent(id, dateID string) *domain.Event {
	return &domain.Event{
		ID:     id,
		Status: domain.ApprovalStatusApproved,
		Dates:  []domain.EventDate{{ID: dateID, StartsAt: eventStart, Status: domain.ApprovalStatusApproved}},
	}
}

func pendingEvent(id, dateID string) *domain.Event {
	return &domain.Event{
		ID:     id,
		Status: domain.ApprovalStatusPending,
		Dates:  []domain.EventDate{{ID: dateID, StartsAt: eventStart, Status: domain.ApprovalStatusPending}},
	}
}

// harness wires both services against the mocks.
type harness struct {
	listings  *mockListingRepo
	txns      *mockTxnRepo
	catalog   *mockCatalog
	wallet    *mockWallet
	payments  *mockPayments
	publisher *mockPublisher
	clock     *clock.FakeClock
	inventory *ListingService
	escrow    *EscrowService
}

func newHarness(events ...*domain.Event) *harness {
	h := &harness{
		listings:  newMockListingRepo(),
		txns:      newMockTxnRepo(),
		catalog:   newMockCatalog(events...),
		wallet:    newMockWallet(),
		payments:  newMockPayments(),
		publisher: &mockPublisher{},
		clock:     clock.Fake(eventStart.Add(-72 * time.Hour)),
	}
	locker := NewKeyedMutex()
	h.inventory = NewListingService(h.listings, h.catalog, locker, h.clock, discardLogger())
	h.escrow = NewEscrowService(EscrowDeps{
		Transactions: h.txns,
		Inventory:    h.inventory,
		Catalog:      h.catalog,
		Wallet:       h.wallet,
		Payments:     h.payments,
		Fees:         staticFees{buyer: decimal.NewFromInt(10), seller: decimal.NewFromInt(5), releaseMin: 60},
		Locker:       locker,
		Clock:        h.clock,
		Logger:       discardLogger(),
		Publisher:    h.publisher,
	})
	return h
}

func (h *harness) createListing(req CreateListingRequest) *domain.Listing {
	l, err := h.inventory.CreateListing(context.Background(), req)
	if err != nil {
		panic(err)
	}
	return l
}

func unnumberedRequest(quantity int, sellTogether bool) CreateListingRequest {
	return CreateListingRequest{
		SellerID:       "seller-1",
		EventID:        "event-1",
		EventDateID:    "date-1",
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     domain.TicketTypeDigitalTransferable,
		Quantity:       quantity,
		SellTogether:   sellTogether,
		PricePerTicket: domain.NewMoney(10000, "usd"),
	}
}
