package customers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scaffold-rental/rental-admin/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu             sync.Mutex
	customers      map[int64]*Customer
	contracts      map[int64]*Contract
	log            []StatusChange
	nextCustomerID int64
	nextContractID int64
	codeSeq        int64

	// Error injection
	txError          error
	getError         error
	appendError      error
	lockedCustomerID int64
	lockedBatches    int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		customers:      make(map[int64]*Customer),
		contracts:      make(map[int64]*Contract),
		nextCustomerID: 1,
		nextContractID: 1,
	}
}

// snapshot lets WithTx roll back on error.
type snapshot struct {
	customers map[int64]Customer
	contracts map[int64]Contract
	log       int
}

func (m *mockRepository) take() snapshot {
	s := snapshot{customers: map[int64]Customer{}, contracts: map[int64]Contract{}, log: len(m.log)}
	for id, c := range m.customers {
		s.customers[id] = *c
	}
	for id, c := range m.contracts {
		s.contracts[id] = *c
	}
	return s
}

func (m *mockRepository) restore(s snapshot) {
	m.customers = make(map[int64]*Customer)
	for id, c := range s.customers {
		c := c
		m.customers[id] = &c
	}
	m.contracts = make(map[int64]*Contract)
	for id, c := range s.contracts {
		c := c
		m.contracts[id] = &c
	}
	m.log = m.log[:s.log]
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	m.mu.Lock()
	snap := m.take()
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *mockRepository) aggregate(id int64) (*Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	out.Contracts = m.contractsOf(id)
	return &out, nil
}

func (m *mockRepository) contractsOf(customerID int64) []Contract {
	var out []Contract
	for _, c := range m.contracts {
		if c.CustomerID == customerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *mockRepository) Get(ctx context.Context, id int64) (*Customer, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregate(id)
}

func (m *mockRepository) GetForUpdate(ctx context.Context, id int64) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedCustomerID = id
	return m.aggregate(id)
}

func (m *mockRepository) GetByCode(ctx context.Context, code string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.Code == code {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepository) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Customer
	for _, c := range m.customers {
		if req.Status != nil && c.Status != *req.Status {
			continue
		}
		if req.Search != nil && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(*req.Search)) {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := req.Offset()
	if start > total {
		start = total
	}
	end := start + req.PerPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *mockRepository) ListAggregatesForUpdate(ctx context.Context, afterID int64, limit int) ([]Customer, error) {
	m.mu.Lock()
	m.lockedBatches++
	m.mu.Unlock()
	return m.ListAggregates(ctx, afterID, limit)
}

func (m *mockRepository) ListAggregates(ctx context.Context, afterID int64, limit int) ([]Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id := range m.customers {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Customer, 0, len(ids))
	for _, id := range ids {
		c, _ := m.aggregate(id)
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockRepository) Create(ctx context.Context, customer Customer) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.Code == customer.Code {
			return 0, fmt.Errorf("%w: customer code %s", ErrAlreadyExists, customer.Code)
		}
	}
	customer.ID = m.nextCustomerID
	customer.Contracts = nil
	m.nextCustomerID++
	m.customers[customer.ID] = &customer
	return customer.ID, nil
}

func (m *mockRepository) Update(ctx context.Context, id int64, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	for column, v := range updates {
		s := v.(string)
		switch column {
		case "name":
			c.Name = s
		case "document":
			c.Document = &s
		case "email":
			c.Email = &s
		case "phone":
			c.Phone = &s
		case "address":
			c.Address = &s
		case "city":
			c.City = &s
		case "state":
			c.State = &s
		case "postal_code":
			c.PostalCode = &s
		case "notes":
			c.Notes = &s
		}
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) SaveStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (m *mockRepository) GenerateCode(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeSeq++
	return fmt.Sprintf("CLI-%05d", m.codeSeq), nil
}

func (m *mockRepository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Status]int{StatusActive: 0, StatusInactive: 0}
	for _, c := range m.customers {
		out[c.Status]++
	}
	return out, nil
}

func (m *mockRepository) ListContracts(ctx context.Context, customerID int64) ([]Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contractsOf(customerID), nil
}

func (m *mockRepository) CreateContract(ctx context.Context, contract Contract) (Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contracts {
		if c.Number == contract.Number {
			return Contract{}, fmt.Errorf("%w: contract number %s", ErrAlreadyExists, contract.Number)
		}
	}
	contract.ID = m.nextContractID
	m.nextContractID++
	m.contracts[contract.ID] = &contract
	return contract, nil
}

func (m *mockRepository) UpdateContract(ctx context.Context, contract Contract) (Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contracts[contract.ID]
	if !ok || existing.CustomerID != contract.CustomerID {
		return Contract{}, ErrContractNotFound
	}
	m.contracts[contract.ID] = &contract
	return contract, nil
}

func (m *mockRepository) DeleteContract(ctx context.Context, customerID, contractID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contracts[contractID]
	if !ok || existing.CustomerID != customerID {
		return ErrContractNotFound
	}
	delete(m.contracts, contractID)
	return nil
}

func (m *mockRepository) AppendStatusChange(ctx context.Context, change StatusChange) error {
	if m.appendError != nil {
		return m.appendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, change)
	return nil
}

func (m *mockRepository) ListStatusChanges(ctx context.Context, req ListStatusLogRequest) ([]StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusChange
	for i := len(m.log) - 1; i >= 0; i-- {
		c := m.log[i]
		if req.CustomerID != nil && c.CustomerID != *req.CustomerID {
			continue
		}
		if req.Reason != nil && c.Reason != *req.Reason {
			continue
		}
		out = append(out, c)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepository) CountStatusChangesSince(ctx context.Context, since time.Time) (map[ChangeReason]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[ChangeReason]int)
	for _, c := range m.log {
		if !c.At.Before(since) {
			out[c.Reason]++
		}
	}
	return out, nil
}

// seedCustomer inserts a customer with contracts directly, bypassing the service.
func (m *mockRepository) seedCustomer(c Customer, contracts ...Contract) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextCustomerID
	m.nextCustomerID++
	if c.Code == "" {
		c.Code = fmt.Sprintf("SEED-%03d", c.ID)
	}
	if c.Status == "" {
		c.Status = StatusInactive
	}
	c.Contracts = nil
	m.customers[c.ID] = &c
	for _, ct := range contracts {
		ct.ID = m.nextContractID
		m.nextContractID++
		ct.CustomerID = c.ID
		if ct.Number == "" {
			ct.Number = fmt.Sprintf("CT-%04d", ct.ID)
		}
		m.contracts[ct.ID] = &ct
	}
	return c.ID
}

// ============================================================================
// MOCK SINKS
// ============================================================================

type recordingSink struct {
	mu      sync.Mutex
	changes []StatusChange
	err     error
}

func (s *recordingSink) Append(ctx context.Context, change StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
	return s.err
}

func (s *recordingSink) all() []StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StatusChange(nil), s.changes...)
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return log.Validate()
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}
