package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scaffold-rental/rental-admin/internal/platform/db"
)

const uniqueViolation = "23505"

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Customer, error)
	GetForUpdate(ctx context.Context, id int64) (*Customer, error)
	GetByCode(ctx context.Context, code string) (*Customer, error)
	List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error)
	ListAggregates(ctx context.Context, afterID int64, limit int) ([]Customer, error)
	ListAggregatesForUpdate(ctx context.Context, afterID int64, limit int) ([]Customer, error)
	Create(ctx context.Context, customer Customer) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SaveStatus(ctx context.Context, id int64, status Status, at time.Time) error
	GenerateCode(ctx context.Context) (string, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)

	ListContracts(ctx context.Context, customerID int64) ([]Contract, error)
	CreateContract(ctx context.Context, contract Contract) (Contract, error)
	UpdateContract(ctx context.Context, contract Contract) (Contract, error)
	DeleteContract(ctx context.Context, customerID, contractID int64) error

	AppendStatusChange(ctx context.Context, change StatusChange) error
	ListStatusChanges(ctx context.Context, req ListStatusLogRequest) ([]StatusChange, error)
	CountStatusChangesSince(ctx context.Context, since time.Time) (map[ChangeReason]int, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if _, inTx := r.db.(pgx.Tx); inTx {
		return fn(ctx, r)
	}
	// FOR UPDATE waiters must observe the holder's committed row.
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	return db.WithTxOptions(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const customerColumns = `id, code, name, document, email, phone, address, city, state,
	postal_code, notes, status, created_at, updated_at`

const contractColumns = `id, customer_id, number, status, start_date, end_date, notes,
	created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Document, &c.Email, &c.Phone, &c.Address, &c.City,
		&c.State, &c.PostalCode, &c.Notes, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func scanContract(row pgx.Row) (Contract, error) {
	var c Contract
	err := row.Scan(
		&c.ID, &c.CustomerID, &c.Number, &c.Status, &c.StartDate, &c.EndDate, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *repository) Get(ctx context.Context, id int64) (*Customer, error) {
	return r.getAggregate(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
}

func (r *repository) GetForUpdate(ctx context.Context, id int64) (*Customer, error) {
	return r.getAggregate(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1 FOR UPDATE", id)
}

func (r *repository) getAggregate(ctx context.Context, query string, id int64) (*Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	contracts, err := r.ListContracts(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Contracts = contracts
	return &c, nil
}

func (r *repository) GetByCode(ctx context.Context, code string) (*Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE code = $1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.Search != nil && *req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d OR document ILIKE $%d OR email ILIKE $%d)", argPos, argPos, argPos, argPos))
		args = append(args, "%"+*req.Search+"%")
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM customers "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM customers %s ORDER BY name, id LIMIT $%d OFFSET $%d",
		customerColumns, whereClause, argPos, argPos+1)
	args = append(args, req.PerPage, req.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ListAggregates pages through customers by id and loads their contracts.
func (r *repository) ListAggregates(ctx context.Context, afterID int64, limit int) ([]Customer, error) {
	return r.listAggregates(ctx, "SELECT "+customerColumns+" FROM customers WHERE id > $1 ORDER BY id LIMIT $2", afterID, limit)
}

// ListAggregatesForUpdate is ListAggregates with the customer rows locked, so contract
// writers queue behind the caller's transaction. Contracts are read after the lock.
func (r *repository) ListAggregatesForUpdate(ctx context.Context, afterID int64, limit int) ([]Customer, error) {
	return r.listAggregates(ctx, "SELECT "+customerColumns+" FROM customers WHERE id > $1 ORDER BY id LIMIT $2 FOR UPDATE", afterID, limit)
}

func (r *repository) listAggregates(ctx context.Context, query string, afterID int64, limit int) ([]Customer, error) {
	rows, err := r.db.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	var out []Customer
	index := make(map[int64]int)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[c.ID] = len(out)
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(out))
	for _, c := range out {
		ids = append(ids, c.ID)
	}
	crows, err := r.db.Query(ctx, "SELECT "+contractColumns+" FROM contracts WHERE customer_id = ANY($1) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		contract, err := scanContract(crows)
		if err != nil {
			return nil, err
		}
		i := index[contract.CustomerID]
		out[i].Contracts = append(out[i].Contracts, contract)
	}
	return out, crows.Err()
}

func (r *repository) Create(ctx context.Context, customer Customer) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO customers (code, name, document, email, phone, address, city, state,
			postal_code, notes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		customer.Code, customer.Name, customer.Document, customer.Email, customer.Phone,
		customer.Address, customer.City, customer.State, customer.PostalCode, customer.Notes,
		string(customer.Status), customer.CreatedAt,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: customer code %s", ErrAlreadyExists, customer.Code)
	}
	return id, err
}

var updatableColumns = []string{"name", "document", "email", "phone", "address", "city", "state", "postal_code", "notes"}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	query := "UPDATE customers SET updated_at = NOW()"
	var args []any
	argPos := 1
	for _, column := range updatableColumns {
		v, ok := updates[column]
		if !ok {
			continue
		}
		query += fmt.Sprintf(", %s = $%d", column, argPos)
		args = append(args, v)
		argPos++
	}
	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) SaveStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	tag, err := r.db.Exec(ctx, "UPDATE customers SET status = $1, updated_at = $2 WHERE id = $3", string(status), at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) GenerateCode(ctx context.Context) (string, error) {
	var next int64
	if err := r.db.QueryRow(ctx, "SELECT nextval('customer_code_seq')").Scan(&next); err != nil {
		return "", err
	}
	return fmt.Sprintf("CLI-%05d", next), nil
}

func (r *repository) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.Query(ctx, "SELECT status, COUNT(*) FROM customers GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{StatusActive: 0, StatusInactive: 0}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (r *repository) ListContracts(ctx context.Context, customerID int64) ([]Contract, error) {
	rows, err := r.db.Query(ctx, "SELECT "+contractColumns+" FROM contracts WHERE customer_id = $1 ORDER BY id", customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) CreateContract(ctx context.Context, contract Contract) (Contract, error) {
	created, err := scanContract(r.db.QueryRow(ctx, `
		INSERT INTO contracts (customer_id, number, status, start_date, end_date, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+contractColumns,
		contract.CustomerID, contract.Number, string(contract.Status), contract.StartDate,
		contract.EndDate, contract.Notes, contract.CreatedAt,
	))
	if isUniqueViolation(err) {
		return Contract{}, fmt.Errorf("%w: contract number %s", ErrAlreadyExists, contract.Number)
	}
	return created, err
}

func (r *repository) UpdateContract(ctx context.Context, contract Contract) (Contract, error) {
	updated, err := scanContract(r.db.QueryRow(ctx, `
		UPDATE contracts
		SET number = $1, status = $2, start_date = $3, end_date = $4, notes = $5, updated_at = $6
		WHERE id = $7 AND customer_id = $8
		RETURNING `+contractColumns,
		contract.Number, string(contract.Status), contract.StartDate, contract.EndDate,
		contract.Notes, contract.UpdatedAt, contract.ID, contract.CustomerID,
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Contract{}, ErrContractNotFound
	case isUniqueViolation(err):
		return Contract{}, fmt.Errorf("%w: contract number %s", ErrAlreadyExists, contract.Number)
	}
	return updated, err
}

func (r *repository) DeleteContract(ctx context.Context, customerID, contractID int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM contracts WHERE id = $1 AND customer_id = $2", contractID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

func (r *repository) AppendStatusChange(ctx context.Context, change StatusChange) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO customer_status_log (id, customer_id, previous_status, new_status, reason, contract_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.ID, change.CustomerID, string(change.PreviousStatus), string(change.NewStatus),
		string(change.Reason), change.ContractID, change.At,
	)
	return err
}

func (r *repository) ListStatusChanges(ctx context.Context, req ListStatusLogRequest) ([]StatusChange, error) {
	var conditions []string
	var args []any
	argPos := 1
	if req.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argPos))
		args = append(args, *req.CustomerID)
		argPos++
	}
	if req.Reason != nil {
		conditions = append(conditions, fmt.Sprintf("reason = $%d", argPos))
		args = append(args, string(*req.Reason))
		argPos++
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT id, customer_id, previous_status, new_status, reason, contract_id, occurred_at
		FROM customer_status_log %s
		ORDER BY occurred_at DESC
		LIMIT $%d`, whereClause, argPos)
	args = append(args, req.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.PreviousStatus, &c.NewStatus, &c.Reason, &c.ContractID, &c.At); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repository) CountStatusChangesSince(ctx context.Context, since time.Time) (map[ChangeReason]int, error) {
	rows, err := r.db.Query(ctx, "SELECT reason, COUNT(*) FROM customer_status_log WHERE occurred_at >= $1 GROUP BY reason", since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[ChangeReason]int)
	for rows.Next() {
		var reason ChangeReason
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		out[reason] = count
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
