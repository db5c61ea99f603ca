package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/satlend/exit-engine/internal/model"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const loanColumns = `id, user_id,
	purchased_btc::TEXT, fees_btc::TEXT, transaction_fees_btc::TEXT,
	repayment_amount_czk::TEXT, repayment_date, created_at`

const orderColumns = `id, loan_id, COALESCE(exchange_order_id, ''),
	btc_amount::TEXT, price_per_btc::TEXT,
	status, created_at, completed_at`

func (s *PostgresStore) CreateLoan(ctx context.Context, l *model.Loan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (id, user_id, purchased_btc, fees_btc, transaction_fees_btc,
		                    repayment_amount_czk, repayment_date, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		l.ID, l.UserID,
		l.PurchasedBTC.String(), l.FeesBTC.String(), l.TransactionFeesBTC.String(),
		l.RepaymentCZK.String(), l.RepaymentDate, l.CreatedAt,
	)
	return persistence("create loan", err)
}

func (s *PostgresStore) GetLoan(ctx context.Context, id string) (*model.Loan, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	l, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistence("get loan "+id, err)
	}
	return &l, nil
}

func (s *PostgresStore) ListLoansByUser(ctx context.Context, userID string) ([]model.Loan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, persistence("list loans", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, persistence("scan loan", err)
		}
		loans = append(loans, l)
	}
	return loans, persistence("list loans", rows.Err())
}

func (s *PostgresStore) ListUsersWithOpenOrders(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT l.user_id
		 FROM sell_orders o
		 JOIN loans l ON l.id = o.loan_id
		 WHERE o.status IN ($1, $2)
		 ORDER BY l.user_id`,
		string(model.StatusSubmitted), string(model.StatusPartiallyFilled))
	if err != nil {
		return nil, persistence("list users with open orders", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, persistence("scan user", err)
		}
		users = append(users, u)
	}
	return users, persistence("list users with open orders", rows.Err())
}

func (s *PostgresStore) ListSellOrders(ctx context.Context, loanID string) ([]model.SellOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM sell_orders WHERE loan_id = $1 ORDER BY created_at, id`, loanID)
	if err != nil {
		return nil, persistence("list sell orders", err)
	}
	defer rows.Close()

	orders, err := scanSellOrders(rows)
	return orders, persistence("list sell orders", err)
}

func (s *PostgresStore) GetSellOrder(ctx context.Context, id string) (*model.SellOrder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM sell_orders WHERE id = $1`, id)
	o, err := scanSellOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sell order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, persistence("get sell order "+id, err)
	}
	return &o, nil
}

func (s *PostgresStore) GetSellOrderByExchangeID(ctx context.Context, exchangeOrderID string) (*model.SellOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM sell_orders WHERE exchange_order_id = $1`, exchangeOrderID)
	o, err := scanSellOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sell order with exchange id %s: %w", exchangeOrderID, ErrNotFound)
	}
	if err != nil {
		return nil, persistence("get sell order by exchange id", err)
	}
	return &o, nil
}

func (s *PostgresStore) InsertSellOrder(ctx context.Context, o *model.SellOrder) error {
	return insertSellOrder(ctx, s.pool, o)
}

func (s *PostgresStore) UpdateSellOrder(ctx context.Context, o *model.SellOrder) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sell_orders
		 SET status = $2, exchange_order_id = NULLIF($3, ''), completed_at = $4
		 WHERE id = $1`,
		o.ID, string(o.Status), o.ExchangeOrderID, o.CompletedAt,
	)
	if err != nil {
		return mapWriteError("update sell order", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sell order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteSellOrder(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sell_orders WHERE id = $1`, id)
	if err != nil {
		return persistence("delete sell order", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sell order %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ReplacePlannedOrders(ctx context.Context, loanID string, orders []model.SellOrder) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistence("begin replace planned orders", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`DELETE FROM sell_orders WHERE loan_id = $1 AND status IN ($2, $3)`,
		loanID, string(model.StatusPlanned), string(model.StatusFailed)); err != nil {
		return persistence("delete planned orders", err)
	}
	for i := range orders {
		if err := insertSellOrder(ctx, tx, &orders[i]); err != nil {
			return err
		}
	}
	return persistence("commit replace planned orders", tx.Commit(ctx))
}

func (s *PostgresStore) GetStrategy(ctx context.Context, loanID string) (*model.StrategyRecord, error) {
	var rec model.StrategyRecord
	var payload string
	err := s.pool.QueryRow(ctx,
		`SELECT loan_id, kind, payload::TEXT, updated_at FROM exit_strategies WHERE loan_id = $1`, loanID).
		Scan(&rec.LoanID, &rec.Kind, &payload, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("strategy for loan %s: %w", loanID, ErrNotFound)
	}
	if err != nil {
		return nil, persistence("get strategy", err)
	}
	rec.Payload = []byte(payload)
	return &rec, nil
}

func (s *PostgresStore) PutStrategy(ctx context.Context, rec *model.StrategyRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exit_strategies (loan_id, kind, payload, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4)
		 ON CONFLICT (loan_id) DO UPDATE
		 SET kind = EXCLUDED.kind, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		rec.LoanID, rec.Kind, string(rec.Payload), rec.UpdatedAt,
	)
	return persistence("put strategy", err)
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertSellOrder(ctx context.Context, db execer, o *model.SellOrder) error {
	_, err := db.Exec(ctx,
		`INSERT INTO sell_orders (id, loan_id, exchange_order_id, btc_amount, price_per_btc,
		                          status, created_at, completed_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		o.ID, o.LoanID, o.ExchangeOrderID,
		o.BTCAmount.String(), o.PricePerBTC.String(),
		string(o.Status), o.CreatedAt, o.CompletedAt,
	)
	return mapWriteError("insert sell order", err)
}

func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateExchangeID)
	}
	return persistence(op, err)
}

// pgxRow covers both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	pgxRow
	Next() bool
	Err() error
}

func scanLoan(row pgxRow) (model.Loan, error) {
	var l model.Loan
	var purchased, fees, txFees, repayment string
	if err := row.Scan(&l.ID, &l.UserID,
		&purchased, &fees, &txFees,
		&repayment, &l.RepaymentDate, &l.CreatedAt); err != nil {
		return model.Loan{}, err
	}
	l.PurchasedBTC, _ = decimal.NewFromString(purchased)
	l.FeesBTC, _ = decimal.NewFromString(fees)
	l.TransactionFeesBTC, _ = decimal.NewFromString(txFees)
	l.RepaymentCZK, _ = decimal.NewFromString(repayment)
	return l, nil
}

func scanSellOrder(row pgxRow) (model.SellOrder, error) {
	var o model.SellOrder
	var amount, price, status string
	if err := row.Scan(&o.ID, &o.LoanID, &o.ExchangeOrderID,
		&amount, &price,
		&status, &o.CreatedAt, &o.CompletedAt); err != nil {
		return model.SellOrder{}, err
	}
	o.BTCAmount, _ = decimal.NewFromString(amount)
	o.PricePerBTC, _ = decimal.NewFromString(price)
	o.Status = model.OrderStatus(status)
	return o, nil
}

func scanSellOrders(rows pgxRows) ([]model.SellOrder, error) {
	var orders []model.SellOrder
	for rows.Next() {
		o, err := scanSellOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
