package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/shopline/commerce/pkg/errors"
	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/services/order/internal/catalog"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/event"
	"github.com/shopline/commerce/services/order/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Event recording ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []*pkgkafka.Event
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, ev *pkgkafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []*pkgkafka.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*pkgkafka.Event
	for i, t := range p.topics {
		if t == topic {
			out = append(out, p.events[i])
		}
	}
	return out
}

func newTestProducer() (*event.Producer, *recordingPublisher) {
	pub := &recordingPublisher{}
	return event.NewProducer(pub, newTestLogger()), pub
}

// --- Stock ledger ---

type ledgerCall struct {
	ProductID string
	Delta     int
	Key       string
}

// fault makes one adjustment key fail. With apply set the adjustment still
// takes effect before the error is returned, like a lost response.
type fault struct {
	err   error
	apply bool
	once  bool
}

// fakeLedger is an in-memory stock ledger with single-row atomicity and
// idempotency-key replay, mirroring the catalog service's contract.
type fakeLedger struct {
	mu           sync.Mutex
	products     map[string]*catalog.Product
	applied      map[string]int
	faults       map[string]fault
	lookupErrs   map[string]error
	calls        []ledgerCall
	lookups      int
	beforeAdjust func(l *fakeLedger, productID string)
}

func newFakeLedger(products ...catalog.Product) *fakeLedger {
	l := &fakeLedger{
		products:   make(map[string]*catalog.Product),
		applied:    make(map[string]int),
		faults:     make(map[string]fault),
		lookupErrs: make(map[string]error),
	}
	for _, p := range products {
		p := p
		l.products[p.ID] = &p
	}
	return l
}

func (l *fakeLedger) GetProduct(_ context.Context, productID string) (*catalog.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	if err := l.lookupErrs[productID]; err != nil {
		return nil, err
	}
	p, ok := l.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

func (l *fakeLedger) AdjustStock(_ context.Context, productID string, delta int, key, _ string) (*catalog.Adjustment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ledgerCall{ProductID: productID, Delta: delta, Key: key})

	if l.beforeAdjust != nil {
		l.beforeAdjust(l, productID)
	}

	f, faulty := l.faults[key]
	if faulty && f.once {
		delete(l.faults, key)
	}
	if faulty && !f.apply {
		return nil, f.err
	}

	p, ok := l.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	if prev, ok := l.applied[key]; ok {
		return &catalog.Adjustment{ProductID: productID, Stock: p.Stock, Delta: prev, Replayed: true}, nil
	}
	if p.Stock+delta < 0 {
		return nil, apperrors.InsufficientStock(productID, -delta, p.Stock)
	}
	p.Stock += delta
	l.applied[key] = delta

	if faulty {
		return nil, f.err
	}
	return &catalog.Adjustment{ProductID: productID, Stock: p.Stock, Delta: delta}, nil
}

func (l *fakeLedger) stock(productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.products[productID].Stock
}

func (l *fakeLedger) callKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, len(l.calls))
	for i, c := range l.calls {
		keys[i] = c.Key
	}
	return keys
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls) + l.lookups
}

// --- Order and placement store ---

type memPlacements struct {
	mu         sync.Mutex
	placements map[string]domain.Placement
	steps      map[string]map[int]domain.PlacementStep
	createErr  error
	stepErr    error
}

func newMemPlacements() *memPlacements {
	return &memPlacements{
		placements: make(map[string]domain.Placement),
		steps:      make(map[string]map[int]domain.PlacementStep),
	}
}

func (m *memPlacements) Create(_ context.Context, p *domain.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *p
	cp.Steps = nil
	m.placements[p.ID] = cp
	m.steps[p.ID] = make(map[int]domain.PlacementStep)
	return nil
}

func (m *memPlacements) Update(_ context.Context, p *domain.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.placements[p.ID]; !ok {
		return apperrors.NotFound("placement", p.ID)
	}
	cp := *p
	cp.Steps = nil
	m.placements[p.ID] = cp
	return nil
}

func (m *memPlacements) complete(placementID string, orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.placements[placementID]
	p.Status = domain.PlacementStatusCompleted
	p.OrderID = &orderID
	m.placements[placementID] = p
}

func (m *memPlacements) GetByID(_ context.Context, id string) (*domain.Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.placements[id]
	if !ok {
		return nil, apperrors.NotFound("placement", id)
	}
	p.Steps = m.sortedSteps(id)
	return &p, nil
}

func (m *memPlacements) CreateStep(_ context.Context, s *domain.PlacementStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepErr != nil {
		return m.stepErr
	}
	m.steps[s.PlacementID][s.Seq] = *s
	return nil
}

func (m *memPlacements) UpdateStep(_ context.Context, s *domain.PlacementStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.steps[s.PlacementID][s.Seq]; !ok {
		return apperrors.NotFound("placement step", s.IdempotencyKey)
	}
	s.UpdatedAt = time.Now().UTC()
	m.steps[s.PlacementID][s.Seq] = *s
	return nil
}

func (m *memPlacements) ListStepsByStatus(_ context.Context, status string, limit int) ([]domain.PlacementStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PlacementStep
	for id := range m.steps {
		for _, s := range m.sortedSteps(id) {
			if s.Status == status {
				out = append(out, s)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPlacements) sortedSteps(id string) []domain.PlacementStep {
	steps := make([]domain.PlacementStep, 0, len(m.steps[id]))
	for _, s := range m.steps[id] {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Seq < steps[j].Seq })
	return steps
}

// seed stores a placement and its steps as they would be after a failed run.
func (m *memPlacements) seed(p domain.Placement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := make(map[int]domain.PlacementStep, len(p.Steps))
	for _, s := range p.Steps {
		steps[s.Seq] = s
	}
	p.Steps = nil
	m.placements[p.ID] = p
	m.steps[p.ID] = steps
}

type memOrders struct {
	mu         sync.Mutex
	nextID     int64
	orders     map[int64]domain.Order
	placements *memPlacements
	createErr  error
	// commitLost stores the order but still reports createErr.
	commitLost bool
	getErr     error
}

func newMemOrders(placements *memPlacements) *memOrders {
	return &memOrders{orders: make(map[int64]domain.Order), placements: placements}
}

func (m *memOrders) CreateWithItems(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil && !m.commitLost {
		return m.createErr
	}

	m.nextID++
	now := time.Now().UTC()
	o.ID = m.nextID
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Items {
		o.Items[i].ID = m.nextID*100 + int64(i)
		o.Items[i].OrderID = o.ID
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	m.orders[o.ID] = cp
	if o.PlacementID != "" {
		m.placements.complete(o.PlacementID, o.ID)
	}
	return m.createErr
}

func (m *memOrders) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", strconv.FormatInt(id, 10))
	}
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return &o, nil
}

func (m *memOrders) List(_ context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if filter.UserID != nil && o.UserID != *filter.UserID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return apperrors.NotFound("order", strconv.FormatInt(id, 10))
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	m.orders[id] = o
	return nil
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}
