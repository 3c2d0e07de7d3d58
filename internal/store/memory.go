package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"granix/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	customers map[string]model.Customer // id -> customer
	byAddr    map[string][]string       // address -> customer ids, oldest first
	stops     []model.Stop              // insertion order
	invoices  map[string]model.Invoice
	routes    map[string]model.DailyRoute // date -> snapshot
	now       func() time.Time

	// writes counts mutating calls; tests use it to check no-op avoidance.
	writes int
}

func NewMemory() *Memory {
	return &Memory{
		customers: map[string]model.Customer{},
		byAddr:    map[string][]string{},
		invoices:  map[string]model.Invoice{},
		routes:    map[string]model.DailyRoute{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Writes returns how many mutating calls the store has served.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Memory) FindCustomerByAddress(_ context.Context, address string) (model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byAddr[address]
	if len(ids) == 0 {
		return model.Customer{}, ErrNotFound
	}
	return m.customers[ids[0]], nil
}

func (m *Memory) CreateCustomer(_ context.Context, c model.Customer) (model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := m.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.LastUpdatedAt = now
	m.customers[c.ID] = c
	m.byAddr[c.Address] = append(m.byAddr[c.Address], c.ID)
	m.writes++
	return c, nil
}

func (m *Memory) UpdateCustomer(_ context.Context, id string, patch CustomerPatch) (model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return model.Customer{}, ErrNotFound
	}
	applyCustomerPatch(&c, patch)
	c.LastUpdatedAt = m.now()
	m.customers[id] = c
	m.writes++
	return c, nil
}

func (m *Memory) CreateStops(_ context.Context, stops []model.Stop) ([]model.Stop, error) {
	for _, s := range stops {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("stop %s: %w", s.SourceDocumentNumber, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Stop, len(stops))
	for i, s := range stops {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = m.now()
		}
		m.stops = append(m.stops, s)
		out[i] = s
	}
	m.writes++
	return out, nil
}

func (m *Memory) ListStops(_ context.Context, f StopFilter) ([]model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Stop{}
	for _, s := range m.stops {
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Address != "" && s.DeliveryAddress != f.Address {
			continue
		}
		if f.ManifestID != "" && s.ManifestID != f.ManifestID {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ClaimOldestPending(_ context.Context, address string, patch LinkPatch) (model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i, s := range m.stops {
		if s.DeliveryAddress != address || s.Status != model.StatusPendingLink {
			continue
		}
		if idx < 0 || s.CreatedAt.Before(m.stops[idx].CreatedAt) {
			idx = i
		}
	}
	if idx < 0 {
		return model.Stop{}, ErrNotFound
	}
	s := m.stops[idx]
	linkedAt := patch.LinkedAt
	if linkedAt.IsZero() {
		linkedAt = m.now()
	}
	s.Status = model.StatusLinked
	s.InvoiceID = patch.InvoiceID
	s.ClientName = patch.ClientName
	s.LineItems = append([]model.LineItem(nil), patch.LineItems...)
	s.LinkedAt = &linkedAt
	m.stops[idx] = s
	m.writes++
	return s, nil
}

func (m *Memory) LinkedStopsByAddress(_ context.Context, addresses []string) (map[string]model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		want[a] = struct{}{}
	}
	out := map[string]model.Stop{}
	for _, s := range m.stops {
		if s.Status != model.StatusLinked {
			continue
		}
		if _, ok := want[s.DeliveryAddress]; !ok {
			continue
		}
		prev, seen := out[s.DeliveryAddress]
		if !seen || linkedAfter(s, prev) {
			out[s.DeliveryAddress] = s
		}
	}
	return out, nil
}

func linkedAfter(a, b model.Stop) bool {
	if a.LinkedAt == nil || b.LinkedAt == nil {
		return a.LinkedAt != nil
	}
	return !a.LinkedAt.Before(*b.LinkedAt)
}

func (m *Memory) CreateInvoice(_ context.Context, inv model.Invoice) (model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	stampInvoice(&inv, m.now())
	m.invoices[inv.ID] = inv
	m.writes++
	return inv, nil
}

func (m *Memory) GetInvoice(_ context.Context, id string) (model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return model.Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (m *Memory) SaveDailyRoute(_ context.Context, date string, r model.DailyRoute) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = m.now()
	}
	merged := mergeDailyRoute(m.routes[date], cloneDailyRoute(r))
	merged.Date = date
	m.routes[date] = merged
	m.writes++
	return cloneDailyRoute(merged), nil
}

func (m *Memory) GetDailyRoute(_ context.Context, date string) (model.DailyRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[date]
	if !ok {
		return model.DailyRoute{}, ErrNotFound
	}
	return cloneDailyRoute(r), nil
}

func (m *Memory) Ping(context.Context) error { return nil }
