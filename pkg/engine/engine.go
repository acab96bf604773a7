// Package engine implements the wallet transaction engine: validation,
// lock-ordered wallet access, external authorization and atomic
// balance-plus-ledger mutation for deposits and transfers.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wallet-engine/pkg/logging"
	"wallet-engine/pkg/metrics"
	"wallet-engine/pkg/money"
	"wallet-engine/pkg/wallet"

	"go.uber.org/zap"
)

// Config holds engine policy flags.
type Config struct {
	// UsePessimisticLock controls whether wallets are locked for update
	// inside the unit-of-work. Disabling it trades the lost-update
	// guarantee for throughput in single-writer deployments; concurrent
	// mutations to the same wallet may then race.
	UsePessimisticLock bool
}

// DefaultConfig returns the safe defaults: locking enabled.
func DefaultConfig() Config {
	return Config{UsePessimisticLock: true}
}

// Engine orchestrates deposits and transfers. All collaborators are
// injected at construction so policy (locking, retries, delivery) stays
// testable.
type Engine struct {
	store      Store
	directory  Directory
	authorizer Authorizer
	notifier   Notifier
	config     Config
	logger     *logging.Logger
	metrics    metrics.MetricsCollector
}

// New creates an engine. Pass nil logger or metrics to disable them.
func New(store Store, directory Directory, authorizer Authorizer, notifier Notifier, config Config, logger *logging.Logger, collector metrics.MetricsCollector) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Engine{
		store:      store,
		directory:  directory,
		authorizer: authorizer,
		notifier:   notifier,
		config:     config,
		logger:     logger.Named("engine"),
		metrics:    collector,
	}
}

// Deposit credits amount (minor units) into the wallet owned by
// accountID and appends a self-referential deposit ledger record.
// No external authorization is consulted.
func (e *Engine) Deposit(ctx context.Context, accountID int64, amount int64) Result {
	start := time.Now()
	result := e.deposit(ctx, accountID, amount)
	e.recordOperation("deposit", result, time.Since(start))
	return result
}

func (e *Engine) deposit(ctx context.Context, accountID int64, amount int64) Result {
	if amount <= 0 {
		return failure(wallet.ErrInvalidAmount)
	}

	account, err := e.directory.FindAccount(ctx, accountID)
	if err != nil {
		return e.fail("deposit", err, zap.Int64("account_id", accountID))
	}
	if !account.CanSpend() {
		return failure(wallet.ErrForbidden)
	}

	var (
		snapshot *wallet.Wallet
		record   *wallet.LedgerRecord
	)
	err = e.store.WithinTx(ctx, func(tx Tx) error {
		w, err := e.resolveWallet(ctx, tx, account.ID, wallet.ErrWalletNotFound)
		if err != nil {
			return err
		}

		w.Balance += amount
		if err := tx.SaveWallet(ctx, w); err != nil {
			return fmt.Errorf("save wallet %d: %w", w.ID, err)
		}

		// Deposits are self-referential: funds enter the system into
		// the same wallet on both sides of the record.
		record, err = tx.AppendLedger(ctx, w.ID, w.ID, wallet.KindDeposit, amount)
		if err != nil {
			return fmt.Errorf("append deposit ledger: %w", err)
		}

		snapshot = w
		return nil
	})
	if err != nil {
		return e.fail("deposit", err, zap.Int64("account_id", accountID), zap.Int64("amount", amount))
	}

	e.logger.Info("deposit processed",
		zap.Int64("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("transaction_id", record.ID),
	)
	return success("Deposit processed successfully.", record, snapshot)
}

// Transfer moves amount (minor units) from the payer's wallet to the
// payee's wallet under one unit-of-work, consulting the authorization
// gate first and emitting a completion signal after commit.
func (e *Engine) Transfer(ctx context.Context, payerID, payeeID int64, amount int64) Result {
	start := time.Now()
	result := e.transfer(ctx, payerID, payeeID, amount)
	e.recordOperation("transfer", result, time.Since(start))
	return result
}

func (e *Engine) transfer(ctx context.Context, payerID, payeeID int64, amount int64) Result {
	// Cheapest rejections first: no lookups, no unit-of-work.
	if amount <= 0 {
		return failure(wallet.ErrInvalidAmount)
	}
	if payerID == payeeID {
		return failure(wallet.ErrSameAccount)
	}

	payer, err := e.directory.FindAccount(ctx, payerID)
	if err != nil {
		return e.fail("transfer", sideError(err, wallet.ErrPayerNotFound), zap.Int64("payer_id", payerID))
	}
	payee, err := e.directory.FindAccount(ctx, payeeID)
	if err != nil {
		return e.fail("transfer", sideError(err, wallet.ErrPayeeNotFound), zap.Int64("payee_id", payeeID))
	}
	if !payer.CanSpend() {
		return failure(wallet.ErrForbidden)
	}

	// The gate is consulted before any wallet state is touched. A
	// denial or outage short-circuits with no unit-of-work opened.
	if result, ok := e.authorize(ctx, payerID, payeeID); !ok {
		return result
	}

	var (
		payerSnapshot *wallet.Wallet
		record        *wallet.LedgerRecord
	)
	err = e.store.WithinTx(ctx, func(tx Tx) error {
		// Unlocked reads first to learn both wallet ids, then one
		// ordered lock call for the pair.
		payerWallet, err := tx.WalletByAccount(ctx, payer.ID)
		if err != nil {
			return sideError(err, wallet.ErrPayerWalletNotFound)
		}
		payeeWallet, err := tx.WalletByAccount(ctx, payee.ID)
		if err != nil {
			return sideError(err, wallet.ErrPayeeWalletNotFound)
		}

		if e.config.UsePessimisticLock {
			payerWallet, payeeWallet, err = e.lockPair(ctx, tx, payerWallet.ID, payeeWallet.ID)
			if err != nil {
				return err
			}
		}

		// The balance read before locking may be stale; the check that
		// matters is this one, under the lock.
		if payerWallet.Balance < amount {
			return wallet.ErrInsufficientBalance
		}

		payerWallet.Balance -= amount
		payeeWallet.Balance += amount

		if err := tx.SaveWallet(ctx, payerWallet); err != nil {
			return fmt.Errorf("save payer wallet %d: %w", payerWallet.ID, err)
		}
		if err := tx.SaveWallet(ctx, payeeWallet); err != nil {
			return fmt.Errorf("save payee wallet %d: %w", payeeWallet.ID, err)
		}

		record, err = tx.AppendLedger(ctx, payerWallet.ID, payeeWallet.ID, wallet.KindTransfer, amount)
		if err != nil {
			return fmt.Errorf("append transfer ledger: %w", err)
		}

		payerSnapshot = payerWallet
		return nil
	})
	if err != nil {
		return e.fail("transfer", err,
			zap.Int64("payer_id", payerID),
			zap.Int64("payee_id", payeeID),
			zap.Int64("amount", amount),
		)
	}

	e.logger.Info("transfer processed",
		zap.Int64("payer_id", payerID),
		zap.Int64("payee_id", payeeID),
		zap.Int64("amount", amount),
		zap.Int64("transaction_id", record.ID),
	)

	// The transfer is committed; from here on nothing can fail it as a
	// whole. Notification delivery is best-effort.
	e.notify(ctx, payer, payee, record)

	return success("Transfer processed successfully.", record, payerSnapshot)
}

// authorize consults the gate and converts non-approval into a caller
// result carrying the gate's reason and status hint.
func (e *Engine) authorize(ctx context.Context, payerID, payeeID int64) (Result, bool) {
	auth := e.authorizer.Authorize(ctx)
	if auth.Outcome == AuthorizationApproved {
		return Result{}, true
	}

	err := wallet.ErrAuthorizationUnavailable
	if auth.Outcome == AuthorizationDenied {
		err = wallet.ErrAuthorizationDenied
	}
	e.logger.Warn("transfer not authorized",
		zap.Int64("payer_id", payerID),
		zap.Int64("payee_id", payeeID),
		zap.String("outcome", auth.Outcome.String()),
		zap.String("reason", auth.Reason),
	)

	result := failure(err)
	if auth.Reason != "" {
		result.Message = auth.Reason
	}
	if auth.StatusHint != 0 {
		result.Status = auth.StatusHint
	}
	return result, false
}

// resolveWallet reads a wallet inside the unit-of-work and, when
// locking is enabled, upgrades the read to an exclusive lock.
func (e *Engine) resolveWallet(ctx context.Context, tx Tx, accountID int64, notFound error) (*wallet.Wallet, error) {
	w, err := tx.WalletByAccount(ctx, accountID)
	if err != nil {
		return nil, sideError(err, notFound)
	}
	if !e.config.UsePessimisticLock {
		return w, nil
	}

	locked, err := tx.LockWallets(ctx, []int64{w.ID})
	if err != nil {
		return nil, fmt.Errorf("lock wallet %d: %w", w.ID, err)
	}
	lw, ok := locked[w.ID]
	if !ok {
		return nil, notFound
	}
	return lw, nil
}

// lockPair acquires both wallets in one call with ids sorted ascending,
// so two transfers contending for the same pair always lock in the same
// global order and cannot deadlock.
func (e *Engine) lockPair(ctx context.Context, tx Tx, payerWalletID, payeeWalletID int64) (payer, payee *wallet.Wallet, err error) {
	ids := []int64{payerWalletID, payeeWalletID}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	locked, err := tx.LockWallets(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lock wallets %v: %w", ids, err)
	}

	payer, ok := locked[payerWalletID]
	if !ok {
		return nil, nil, wallet.ErrPayerWalletNotFound
	}
	payee, ok = locked[payeeWalletID]
	if !ok {
		return nil, nil, wallet.ErrPayeeWalletNotFound
	}
	return payer, payee, nil
}

// notify enqueues the completion signal. An enqueue failure is logged
// and swallowed: the caller already holds a committed transfer.
func (e *Engine) notify(ctx context.Context, payer, payee *wallet.Account, record *wallet.LedgerRecord) {
	if e.notifier == nil {
		return
	}

	n := TransferNotification{
		RecipientAccountID: payee.ID,
		Message:            fmt.Sprintf("You received a payment of $%s from %s", money.FormatDisplay(record.Amount), payer.Name),
		Transaction:        record,
	}
	if err := e.notifier.NotifyTransferCompleted(ctx, n); err != nil {
		e.logger.Error("failed to enqueue transfer notification",
			zap.Int64("transaction_id", record.ID),
			zap.Int64("payee_id", payee.ID),
			zap.Error(err),
		)
	}
}

// fail converts err into a Result. Business failures pass through with
// their own message and status; anything else is logged with full
// context and masked behind a generic 500.
func (e *Engine) fail(op string, err error, fields ...zap.Field) Result {
	if !wallet.IsBusinessFailure(err) {
		e.logger.Error("unexpected "+op+" failure", append(fields, zap.Error(err))...)
	}
	return failure(err)
}

func (e *Engine) recordOperation(op string, result Result, duration time.Duration) {
	outcome := "success"
	if !result.OK() {
		outcome = outcomeLabel(result.Status)
	}
	e.metrics.RecordOperation(op, outcome, duration)
}

func outcomeLabel(status int) string {
	switch status {
	case 403:
		return "forbidden"
	case 404:
		return "not_found"
	case 422:
		return "rejected"
	case 502:
		return "gateway_error"
	default:
		return "error"
	}
}

// sideError keeps unexpected faults intact while replacing generic
// not-found sentinels with the side-specific one.
func sideError(err, sideNotFound error) error {
	if wallet.IsNotFound(err) {
		return sideNotFound
	}
	return err
}
