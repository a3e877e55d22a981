package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/scaffold-rental/rental-admin/internal/shared"
)

const (
	defaultPerPage      = 50
	defaultLogLimit     = 100
	defaultScanBatch    = 200
	summaryWindow       = 30 * 24 * time.Hour
	summaryCacheKey     = "customers:status:summary"
	auditEntity         = "customer"
	auditEntityContract = "contract"
)

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig tunes the service. Zero values fall back to defaults.
type ServiceConfig struct {
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	repo     Repository
	sink     LogSink
	audit    AuditRecorder
	cache    *Cache
	validate *validator.Validate
	logger   *slog.Logger
	location *time.Location
	now      func() time.Time
	group    singleflight.Group
}

func NewService(repo Repository, sink LogSink, audit AuditRecorder, cache *Cache, cfg ServiceConfig) *Service {
	s := &Service{
		repo:     repo,
		sink:     sink,
		audit:    audit,
		cache:    cache,
		validate: validator.New(),
		logger:   cfg.Logger,
		location: cfg.Location,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.location == nil {
		s.location = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ContractResult is the outcome of a contract mutation.
type ContractResult struct {
	Customer *Customer     `json:"customer"`
	Contract *Contract     `json:"contract,omitempty"`
	Change   *StatusChange `json:"status_change,omitempty"`
}

// RecomputeResult summarises a recompute pass.
type RecomputeResult struct {
	Scanned int            `json:"scanned"`
	Changes []StatusChange `json:"changes"`
}

func (s *Service) clock() time.Time {
	return s.now().In(s.location)
}

func (s *Service) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		generated, err := s.repo.GenerateCode(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate customer code: %w", err)
		}
		code = generated
	} else {
		existing, err := s.repo.GetByCode(ctx, code)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("check existing customer: %w", err)
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: customer code already exists", ErrAlreadyExists)
		}
	}

	now := s.clock()
	customer := Customer{
		Code:       code,
		Name:       strings.TrimSpace(req.Name),
		Document:   req.Document,
		Email:      req.Email,
		Phone:      req.Phone,
		Address:    req.Address,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Notes:      req.Notes,
		Status:     StatusInactive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, customer)
		if err != nil {
			return err
		}
		customer.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	s.recordAudit(ctx, "customer.create", auditEntity, customer.ID, map[string]any{"code": customer.Code})
	return &customer, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateCustomerRequest) (*Customer, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	updates := make(map[string]any)
	setIf := func(column string, v *string) {
		if v != nil {
			updates[column] = *v
		}
	}
	setIf("name", req.Name)
	setIf("document", req.Document)
	setIf("email", req.Email)
	setIf("phone", req.Phone)
	setIf("address", req.Address)
	setIf("city", req.City)
	setIf("state", req.State)
	setIf("postal_code", req.PostalCode)
	setIf("notes", req.Notes)

	if len(updates) == 0 {
		return existing, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Update(ctx, id, updates)
	})
	if err != nil {
		return nil, fmt.Errorf("update customer: %w", err)
	}

	fields := make([]string, 0, len(updates))
	for column := range updates {
		fields = append(fields, column)
	}
	s.recordAudit(ctx, "customer.update", auditEntity, id, map[string]any{"fields": fields})
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListCustomersRequest) ([]Customer, shared.Pagination, error) {
	if req.PerPage <= 0 {
		req.PerPage = defaultPerPage
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if err := s.validateStruct(req); err != nil {
		return nil, shared.Pagination{}, err
	}
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list customers: %w", err)
	}
	return items, shared.NewPagination(req.Page, req.PerPage, total), nil
}

func (s *Service) ListContracts(ctx context.Context, customerID int64) ([]Contract, error) {
	customer, err := s.repo.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return customer.Contracts, nil
}

// AddContract stores a new contract and recomputes the owner's status in one transaction.
func (s *Service) AddContract(ctx context.Context, customerID int64, req ContractRequest) (*ContractResult, error) {
	contract, err := s.contractFromRequest(req)
	if err != nil {
		return nil, err
	}

	var result ContractResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		customer, err := repo.GetForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		now := s.clock()
		contract.CustomerID = customerID
		contract.CreatedAt = now
		contract.UpdatedAt = now
		created, err := repo.CreateContract(ctx, contract)
		if err != nil {
			return err
		}
		updated, change := OnContractAdded(*customer, created, now)
		if err := persistStatus(ctx, repo, updated, change); err != nil {
			return err
		}
		result = ContractResult{Customer: &updated, Contract: &created, Change: change}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add contract: %w", err)
	}

	s.afterCommit(ctx, result.Change)
	s.recordAudit(ctx, "contract.create", auditEntityContract, result.Contract.ID, map[string]any{
		"customer_id": customerID,
		"number":      result.Contract.Number,
		"status":      string(result.Contract.Status),
	})
	return &result, nil
}

// UpdateContract replaces a contract owned by the customer.
func (s *Service) UpdateContract(ctx context.Context, customerID, contractID int64, req ContractRequest) (*ContractResult, error) {
	contract, err := s.contractFromRequest(req)
	if err != nil {
		return nil, err
	}

	var result ContractResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		customer, err := repo.GetForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		now := s.clock()
		contract.ID = contractID
		contract.CustomerID = customerID
		contract.UpdatedAt = now
		for _, existing := range customer.Contracts {
			if existing.ID == contractID {
				contract.CreatedAt = existing.CreatedAt
			}
		}
		updated, change, err := OnContractUpdated(*customer, contract, now)
		if err != nil {
			return err
		}
		stored, err := repo.UpdateContract(ctx, contract)
		if err != nil {
			return err
		}
		if err := persistStatus(ctx, repo, updated, change); err != nil {
			return err
		}
		result = ContractResult{Customer: &updated, Contract: &stored, Change: change}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update contract: %w", err)
	}

	s.afterCommit(ctx, result.Change)
	s.recordAudit(ctx, "contract.update", auditEntityContract, contractID, map[string]any{
		"customer_id": customerID,
		"status":      string(result.Contract.Status),
	})
	return &result, nil
}

// RemoveContract deletes a contract owned by the customer.
func (s *Service) RemoveContract(ctx context.Context, customerID, contractID int64) (*ContractResult, error) {
	var result ContractResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		customer, err := repo.GetForUpdate(ctx, customerID)
		if err != nil {
			return err
		}
		now := s.clock()
		updated, change, err := OnContractRemoved(*customer, contractID, now)
		if err != nil {
			return err
		}
		if err := repo.DeleteContract(ctx, customerID, contractID); err != nil {
			return err
		}
		if err := persistStatus(ctx, repo, updated, change); err != nil {
			return err
		}
		result = ContractResult{Customer: &updated, Change: change}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove contract: %w", err)
	}

	s.afterCommit(ctx, result.Change)
	s.recordAudit(ctx, "contract.delete", auditEntityContract, contractID, map[string]any{"customer_id": customerID})
	return &result, nil
}

// StatusLog lists recorded transitions, newest first.
func (s *Service) StatusLog(ctx context.Context, req ListStatusLogRequest) ([]StatusChange, error) {
	if req.Limit <= 0 {
		req.Limit = defaultLogLimit
	}
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.CustomerID != nil {
		if _, err := s.repo.Get(ctx, *req.CustomerID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListStatusChanges(ctx, req)
}

// Drift reports customers whose stored status no longer matches their contracts.
func (s *Service) Drift(ctx context.Context) ([]Customer, error) {
	var stale []Customer
	err := s.scan(ctx, s.repo, defaultScanBatch, func(batch []Customer) error {
		stale = append(stale, NeedingUpdate(batch, s.clock())...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drift scan: %w", err)
	}
	return stale, nil
}

// RecomputeAll re-derives every customer status in batches. Each batch commits on its own;
// customers are locked while their batch is written.
func (s *Service) RecomputeAll(ctx context.Context, batchSize int) (*RecomputeResult, error) {
	if batchSize <= 0 {
		batchSize = defaultScanBatch
	}
	result := &RecomputeResult{}
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var batchLen int
		var lastID int64
		var committed []StatusChange
		err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			batch, err := repo.ListAggregatesForUpdate(ctx, afterID, batchSize)
			if err != nil {
				return err
			}
			batchLen = len(batch)
			if batchLen == 0 {
				return nil
			}
			lastID = batch[batchLen-1].ID
			updated, changes := RecomputeAll(batch, s.clock())
			byID := make(map[int64]Customer, len(updated))
			for _, c := range updated {
				byID[c.ID] = c
			}
			for _, change := range changes {
				c := byID[change.CustomerID]
				if err := persistStatus(ctx, repo, c, &change); err != nil {
					return err
				}
			}
			committed = changes
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("recompute batch after %d: %w", afterID, err)
		}
		result.Scanned += batchLen
		afterID = lastID
		s.publishChanges(ctx, committed)
		result.Changes = append(result.Changes, committed...)
		if batchLen < batchSize {
			return result, nil
		}
	}
}

// Summary returns dashboard figures, cached until the next status change.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	key, err := s.cache.BuildKey(ctx, summaryCacheKey)
	if err != nil {
		s.logger.Warn("summary cache key", slog.Any("error", err))
		key = summaryCacheKey
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var summary Summary
		err := s.cache.FetchJSON(ctx, key, &summary, func(ctx context.Context) (any, error) {
			return s.buildSummary(ctx)
		})
		if err != nil {
			return nil, err
		}
		return &summary, nil
	})
	if err != nil {
		return nil, fmt.Errorf("status summary: %w", err)
	}
	return v.(*Summary), nil
}

func (s *Service) buildSummary(ctx context.Context) (*Summary, error) {
	now := s.clock()
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	since := now.Add(-summaryWindow)
	transitions, err := s.repo.CountStatusChangesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	stale, err := s.Drift(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Active:      counts[StatusActive],
		Inactive:    counts[StatusInactive],
		Drift:       len(stale),
		Transitions: transitions,
		Since:       since,
		GeneratedAt: now,
	}, nil
}

func (s *Service) scan(ctx context.Context, repo Repository, batchSize int, fn func([]Customer) error) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := repo.ListAggregates(ctx, afterID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}

func (s *Service) contractFromRequest(req ContractRequest) (Contract, error) {
	if err := s.validateStruct(req); err != nil {
		return Contract{}, err
	}
	return req.ToContract()
}

func persistStatus(ctx context.Context, repo Repository, customer Customer, change *StatusChange) error {
	if err := repo.SaveStatus(ctx, customer.ID, customer.Status, customer.UpdatedAt); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	if change == nil {
		return nil
	}
	if err := repo.AppendStatusChange(ctx, *change); err != nil {
		return fmt.Errorf("append status change: %w", err)
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, change *StatusChange) {
	if change == nil {
		return
	}
	s.publishChanges(ctx, []StatusChange{*change})
}

// publishChanges bumps the report cache once for the committed changes, then hands
// each change to the sink.
func (s *Service) publishChanges(ctx context.Context, changes []StatusChange) {
	if len(changes) == 0 {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("status cache bump", slog.Any("error", err), slog.Int("changes", len(changes)))
	}
	if s.sink == nil {
		return
	}
	for _, change := range changes {
		if err := s.sink.Append(ctx, change); err != nil {
			s.logger.Warn("status change sink", slog.Any("error", err), slog.Int64("customer_id", change.CustomerID))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.clock(),
	})
	if err != nil {
		s.logger.Warn("audit record", slog.Any("error", err), slog.String("action", action))
	}
}
