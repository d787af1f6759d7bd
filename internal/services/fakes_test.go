package services

import (
	"context"
	"sync"

	"BobaOrders/internal/events"
	"BobaOrders/internal/gateway"
	"BobaOrders/internal/loyalty"
	"BobaOrders/internal/models"
	"BobaOrders/internal/notify"
	"BobaOrders/internal/store"
)

// fakeStore holds its mutex for the whole of InTx, standing in for the row
// lock, and restores a snapshot when a transaction or savepoint fails.
type fakeStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	users  map[string]*models.User
	txns   []*models.LoyaltyTransaction

	lockCalls      int
	failLock       error
	failTransition error
	failInsertTxn  error
	failCommit     error
}

type fakeState struct {
	orders map[string]models.Order
	users  map[string]models.User
	txns   []*models.LoyaltyTransaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: map[string]*models.Order{}, users: map[string]*models.User{}}
}

func (s *fakeStore) addOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &o
}

func (s *fakeStore) addUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *fakeStore) order(id string) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

func (s *fakeStore) user(id string) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *fakeStore) transactions() []*models.LoyaltyTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.LoyaltyTransaction, len(s.txns))
	copy(out, s.txns)
	return out
}

func (s *fakeStore) snapshot() fakeState {
	st := fakeState{orders: map[string]models.Order{}, users: map[string]models.User{}}
	for k, v := range s.orders {
		st.orders[k] = *v
	}
	for k, v := range s.users {
		st.users[k] = *v
	}
	st.txns = append([]*models.LoyaltyTransaction(nil), s.txns...)
	return st
}

func (s *fakeStore) restore(st fakeState) {
	s.orders = map[string]*models.Order{}
	for k, v := range st.orders {
		v := v
		s.orders[k] = &v
	}
	s.users = map[string]*models.User{}
	for k, v := range st.users {
		v := v
		s.users[k] = &v
	}
	s.txns = st.txns
}

func (s *fakeStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *fakeStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			cp := *o
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) AttachPayment(ctx context.Context, orderID, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	o.PaymentID = &paymentID
	return true, nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(&fakeTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	if s.failCommit != nil {
		s.restore(snap)
		return s.failCommit
	}
	return nil
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) LockOrder(ctx context.Context, orderID string) (*models.Order, error) {
	t.s.lockCalls++
	if t.s.failLock != nil {
		return nil, t.s.failLock
	}
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (t *fakeTx) TransitionPayment(ctx context.Context, orderID string, from, to models.PaymentStatus, status models.OrderStatus, paymentID string) (bool, error) {
	if t.s.failTransition != nil {
		return false, t.s.failTransition
	}
	o, ok := t.s.orders[orderID]
	if !ok || o.PaymentStatus != from {
		return false, nil
	}
	o.PaymentStatus = to
	o.Status = status
	o.PaymentID = &paymentID
	return true, nil
}

func (t *fakeTx) SetLoyaltyPending(ctx context.Context, orderID string, pending bool) error {
	o, ok := t.s.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	o.LoyaltyPending = pending
	return nil
}

func (t *fakeTx) AddPoints(ctx context.Context, userID string, delta int64) (int64, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if u.LoyaltyPoints+delta < 0 {
		return 0, loyalty.ErrNegativeBalance
	}
	u.LoyaltyPoints += delta
	return u.LoyaltyPoints, nil
}

func (t *fakeTx) SetTier(ctx context.Context, userID string, tier models.LoyaltyTier) error {
	u, ok := t.s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.LoyaltyTier = tier
	return nil
}

func (t *fakeTx) InsertLoyaltyTransaction(ctx context.Context, txn *models.LoyaltyTransaction) error {
	if t.s.failInsertTxn != nil {
		return t.s.failInsertTxn
	}
	t.s.txns = append(t.s.txns, txn)
	return nil
}

func (t *fakeTx) Savepoint(ctx context.Context, fn func(tx OrderTx) error) error {
	snap := t.s.snapshot()
	if err := fn(t); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*gateway.Payment
	err      error
	gets     int
	created  []gateway.CreatePaymentRequest
	next     *gateway.Payment
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*gateway.Payment{}}
}

func (g *fakeGateway) setPayment(id string, status gateway.Status, orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = &gateway.Payment{ID: id, Status: status, Metadata: gateway.Metadata{OrderID: orderID}}
}

func (g *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gets++
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, gateway.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.err != nil {
		return nil, g.err
	}
	p := *g.next
	g.payments[p.ID] = &p
	return &p, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	err  error
}

func (n *fakeNotifier) SendOrderConfirmation(ctx context.Context, c notify.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}
