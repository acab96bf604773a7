// Package postgres implements the wallet store, account directory and
// ledger on PostgreSQL. Row-level locks (SELECT ... FOR UPDATE) back
// the engine's deadlock-avoidance contract: the engine passes wallet
// ids sorted ascending and the store locks them in that order.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/wallet"

	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "wallet_db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store implements engine.Store and engine.Directory on PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool, verifies it and ensures the schema
// exists.
func NewStore(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('standard', 'merchant')),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS wallets (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL UNIQUE REFERENCES accounts(id),
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			payer_wallet_id BIGINT NOT NULL REFERENCES wallets(id),
			payee_wallet_id BIGINT NOT NULL REFERENCES wallets(id),
			kind TEXT NOT NULL CHECK (kind IN ('deposit', 'transfer')),
			amount BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_payer_wallet_id ON transactions(payer_wallet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_payee_wallet_id ON transactions(payee_wallet_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// FindAccount implements engine.Directory.
func (s *Store) FindAccount(ctx context.Context, id int64) (*wallet.Account, error) {
	var a wallet.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Type)
	if err == sql.ErrNoRows {
		return nil, wallet.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account %d: %w", id, err)
	}
	return &a, nil
}

// FindWalletByAccount reads a wallet without locking it. Used for
// existence checks only; mutations go through WithinTx.
func (s *Store) FindWalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error) {
	return scanWalletByAccount(ctx, s.db, accountID)
}

// WithinTx runs fn inside one database transaction. A nil return
// commits; any error rolls back and is returned unchanged so tagged
// business failures survive the transaction boundary.
func (s *Store) WithinTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&storeTx{tx: dbTx}); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanWalletByAccount(ctx context.Context, q queryer, accountID int64) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := q.QueryRowContext(ctx,
		`SELECT id, account_id, balance FROM wallets WHERE account_id = $1`, accountID,
	).Scan(&w.ID, &w.AccountID, &w.Balance)
	if err == sql.ErrNoRows {
		return nil, wallet.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query wallet for account %d: %w", accountID, err)
	}
	return &w, nil
}

// storeTx implements engine.Tx on one open database transaction.
type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) WalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error) {
	return scanWalletByAccount(ctx, t.tx, accountID)
}

// LockWallets acquires FOR UPDATE locks on the requested wallets. The
// ORDER BY matches the caller's ascending id order, so lock acquisition
// follows one global order across concurrent transactions. Missing ids
// are simply absent from the result.
func (t *storeTx) LockWallets(ctx context.Context, ids []int64) (map[int64]*wallet.Wallet, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, account_id, balance FROM wallets WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*wallet.Wallet, len(ids))
	for rows.Next() {
		var w wallet.Wallet
		if err := rows.Scan(&w.ID, &w.AccountID, &w.Balance); err != nil {
			return nil, fmt.Errorf("scan locked wallet: %w", err)
		}
		out[w.ID] = &w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock wallets: %w", err)
	}
	return out, nil
}

func (t *storeTx) SaveWallet(ctx context.Context, w *wallet.Wallet) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $1 WHERE id = $2`, w.Balance, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update wallet %d: %w", w.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wallet %d: %w", w.ID, err)
	}
	if affected == 0 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

func (t *storeTx) AppendLedger(ctx context.Context, payerWalletID, payeeWalletID int64, kind wallet.TransactionKind, amount int64) (*wallet.LedgerRecord, error) {
	rec := &wallet.LedgerRecord{
		PayerWalletID: payerWalletID,
		PayeeWalletID: payeeWalletID,
		Kind:          kind,
		Amount:        amount,
	}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO transactions (payer_wallet_id, payee_wallet_id, kind, amount)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		payerWalletID, payeeWalletID, string(kind), amount,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger record: %w", err)
	}
	return rec, nil
}
