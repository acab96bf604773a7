// Package wallet holds the domain types shared across the transaction
// engine: accounts, wallets and immutable ledger records.
package wallet

import "time"

// AccountType classifies an account. Only standard accounts may deposit
// or act as the paying side of a transfer; any account may receive.
type AccountType string

const (
	// AccountStandard is a regular end-user account.
	AccountStandard AccountType = "standard"
	// AccountMerchant is a merchant account. Merchants can only receive
	// transfers.
	AccountMerchant AccountType = "merchant"
)

// Account is an identity capable of owning exactly one wallet. Accounts
// are provisioned externally and are read-only to the engine.
type Account struct {
	ID   int64       `json:"id"`
	Name string      `json:"name"`
	Type AccountType `json:"type"`
}

// CanSpend reports whether the account may initiate a deposit or be the
// source of a transfer.
func (a *Account) CanSpend() bool {
	return a.Type == AccountStandard
}

// Wallet is the balance-holding record for one account. Balance is in
// minor currency units and must never go negative.
type Wallet struct {
	ID        int64 `json:"id"`
	AccountID int64 `json:"account_id"`
	Balance   int64 `json:"balance"`
}

// TransactionKind is the kind of a ledger record.
type TransactionKind string

const (
	// KindDeposit marks funds entering the system into one wallet.
	KindDeposit TransactionKind = "deposit"
	// KindTransfer marks funds moving between two wallets.
	KindTransfer TransactionKind = "transfer"
)

// LedgerRecord is the immutable proof of one completed balance-affecting
// operation. Deposit records are self-referential: payer and payee
// wallet ids are equal. Records are never updated or deleted.
type LedgerRecord struct {
	ID            int64           `json:"id"`
	PayerWalletID int64           `json:"payer_wallet_id"`
	PayeeWalletID int64           `json:"payee_wallet_id"`
	Kind          TransactionKind `json:"kind"`
	Amount        int64           `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
