package engine

import (
	"context"

	"wallet-engine/pkg/wallet"
)

// Store is the persistence boundary of the engine. FindWalletByAccount
// is an unlocked read used for existence checks only; every mutation
// happens inside WithinTx.
type Store interface {
	// FindWalletByAccount returns the wallet owned by the account, or
	// wallet.ErrWalletNotFound.
	FindWalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error)

	// WithinTx runs fn inside one unit-of-work. A nil return commits,
	// any error rolls back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one unit-of-work.
type Tx interface {
	// WalletByAccount reads the wallet owned by the account without
	// locking it, or returns wallet.ErrWalletNotFound.
	WalletByAccount(ctx context.Context, accountID int64) (*wallet.Wallet, error)

	// LockWallets acquires exclusive row locks on every requested
	// wallet and returns them keyed by id. Ids absent from the result
	// do not exist. Callers must pass ids sorted ascending so that
	// concurrent operations contending for overlapping wallets acquire
	// locks in one global order.
	LockWallets(ctx context.Context, ids []int64) (map[int64]*wallet.Wallet, error)

	// SaveWallet persists a balance mutation.
	SaveWallet(ctx context.Context, w *wallet.Wallet) error

	// AppendLedger inserts one immutable ledger record.
	AppendLedger(ctx context.Context, payerWalletID, payeeWalletID int64, kind wallet.TransactionKind, amount int64) (*wallet.LedgerRecord, error)
}

// Directory resolves accounts. Accounts are provisioned externally and
// read-only to the engine, so implementations may cache them.
type Directory interface {
	// FindAccount returns the account or wallet.ErrAccountNotFound.
	FindAccount(ctx context.Context, id int64) (*wallet.Account, error)
}

// AuthorizationOutcome is the decision of the external authorizer.
type AuthorizationOutcome int

const (
	// AuthorizationApproved means the transfer may proceed.
	AuthorizationApproved AuthorizationOutcome = iota
	// AuthorizationDenied means the authorizer answered and said no.
	AuthorizationDenied
	// AuthorizationUnavailable means no usable answer was obtained.
	AuthorizationUnavailable
)

// String returns the metrics label for the outcome.
func (o AuthorizationOutcome) String() string {
	switch o {
	case AuthorizationApproved:
		return "approved"
	case AuthorizationDenied:
		return "denied"
	default:
		return "unavailable"
	}
}

// Authorization is the full answer from the authorization gate.
type Authorization struct {
	Outcome AuthorizationOutcome
	// Reason is a human-readable explanation for non-approved outcomes.
	Reason string
	// StatusHint is the HTTP-style status the adapter suggests
	// surfacing to the caller.
	StatusHint int
}

// Authorizer is the external authorization gate consulted before any
// transfer is committed. Never consulted for deposits. Retry and
// timeout policy belong to the implementation, not the engine.
type Authorizer interface {
	Authorize(ctx context.Context) Authorization
}

// TransferNotification is the completion signal emitted after a
// transfer commits.
type TransferNotification struct {
	RecipientAccountID int64
	Message            string
	Transaction        *wallet.LedgerRecord
}

// Notifier delivers transfer completion signals. Delivery is
// asynchronous and best-effort; an enqueue error is logged by the
// engine and never affects the already-committed transfer.
type Notifier interface {
	NotifyTransferCompleted(ctx context.Context, n TransferNotification) error
}
